package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Progress turns convergence spans into progress lines: one per finished
// pass and one per finished identity.
type Progress struct {
	provider *sdktrace.TracerProvider
}

func NewProgress(w io.Writer) *Progress {
	p := &passPrinter{w: w, runs: make(map[trace.SpanID]*run)}
	return &Progress{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))}
}

func (p *Progress) Tracer(name string) trace.Tracer {
	return p.provider.Tracer(name)
}

func (p *Progress) Close() {
	_ = p.provider.Shutdown(context.Background())
}

type run struct {
	identity   string
	passFailed bool
}

// passPrinter is a span processor. Root spans are convergence runs, their
// children are passes.
type passPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	runs map[trace.SpanID]*run
}

func (p *passPrinter) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if span.Parent().IsValid() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs[span.SpanContext().SpanID()] = &run{identity: identityOf(span)}
}

func (p *passPrinter) OnEnd(span sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := span.Status()
	failed := status.Code == codes.Error
	if span.Parent().IsValid() {
		r, ok := p.runs[span.Parent().SpanID()]
		if !ok {
			return
		}
		r.passFailed = r.passFailed || failed
		pass := attributeValue(span.Attributes(), "virtops.pass").AsInt64()
		fmt.Fprintln(p.w, formatPassLine(r.identity, pass, span.Name(), failed, status.Description))
		return
	}

	id := span.SpanContext().SpanID()
	r, ok := p.runs[id]
	if !ok {
		return
	}
	delete(p.runs, id)
	passes := attributeValue(span.Attributes(), "virtops.passes").AsInt64()
	msg := status.Description
	if r.passFailed {
		msg = ""
	}
	fmt.Fprintln(p.w, formatRunLine(r.identity, passes, failed, msg))
}

func (p *passPrinter) Shutdown(context.Context) error   { return nil }
func (p *passPrinter) ForceFlush(context.Context) error { return nil }

func formatPassLine(identity string, pass int64, label string, failed bool, msg string) string {
	prefix := "[ok]"
	if failed {
		prefix = "[x]"
	}
	line := fmt.Sprintf("    %s %s #%d %s", prefix, identity, pass, label)
	if msg = strings.TrimSpace(msg); failed && msg != "" {
		line += " (" + msg + ")"
	}
	return line
}

func formatRunLine(identity string, passes int64, failed bool, msg string) string {
	if failed {
		if msg = strings.TrimSpace(msg); msg != "" {
			return fmt.Sprintf("  [x] %s (%s)", identity, msg)
		}
		return fmt.Sprintf("  [x] %s", identity)
	}
	switch passes {
	case 0:
		return fmt.Sprintf("  [ok] %s up to date", identity)
	case 1:
		return fmt.Sprintf("  [ok] %s converged in 1 pass", identity)
	default:
		return fmt.Sprintf("  [ok] %s converged in %d passes", identity, passes)
	}
}

func identityOf(span sdktrace.ReadOnlySpan) string {
	attrs := span.Attributes()
	kind := attributeValue(attrs, "virtops.kind").AsString()
	name := attributeValue(attrs, "virtops.name").AsString()
	if kind != "" && name != "" {
		return kind + "/" + name
	}
	return strings.TrimPrefix(span.Name(), "converge ")
}

func attributeValue(attrs []attribute.KeyValue, key string) attribute.Value {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value
		}
	}
	return attribute.Value{}
}
