package stream

import (
	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/reasoning"
)

// Writer reconstructs a block-structured event stream from whatever shape the
// backend delivers. One Writer is threaded through every continuation of a
// tool loop so the client sees a single message: message_start goes out once,
// block indices only ever grow, and at most one text or thinking block is
// open at any moment.
type Writer struct {
	emitter Emitter

	messageID string
	model     string

	startSent bool
	nextIndex int

	// Active block indices, -1 when closed. Text and thinking are mutually
	// exclusive; parsed thinking is the splitter-recovered channel and is
	// tracked apart from the backend's dedicated reasoning field.
	activeText     int
	activeThinking int
	activeParsed   int
	openTools      map[int]bool

	splitter  reasoning.Splitter
	parseTags bool

	bytesEmitted int64
	lastEvent    string
	err          error

	finalStop  string
	finalUsage claude.Usage
}

// NewWriter builds a Writer for one client-visible message.
func NewWriter(emitter Emitter, messageID, model string) *Writer {
	return &Writer{
		emitter:        emitter,
		messageID:      messageID,
		model:          model,
		activeText:     -1,
		activeThinking: -1,
		activeParsed:   -1,
		openTools:      make(map[int]bool),
	}
}

// StartSent reports whether message_start has gone out.
func (w *Writer) StartSent() bool { return w.startSent }

// BytesEmitted returns the total payload bytes written, for diagnostics.
func (w *Writer) BytesEmitted() int64 { return w.bytesEmitted }

// LastEvent returns the name of the most recent event written.
func (w *Writer) LastEvent() string { return w.lastEvent }

// Err returns the first write failure, if any. After a failure every call
// becomes a no-op returning the same error.
func (w *Writer) Err() error { return w.err }

func (w *Writer) emit(event string, payload []byte) error {
	if w.err != nil {
		return w.err
	}
	if err := w.emitter.Emit(event, payload); err != nil {
		w.err = err
		return err
	}
	w.bytesEmitted += int64(len(payload))
	w.lastEvent = event
	return nil
}

// EnsureStart emits message_start if it has not gone out yet.
func (w *Writer) EnsureStart() error {
	if w.startSent {
		return w.err
	}
	if err := w.emit(claude.EventMessageStart, claude.MessageStartPayload(w.messageID, w.model)); err != nil {
		return err
	}
	w.startSent = true
	return nil
}

// EnableTagParsing arms marker recovery on WriteContent. The orchestrator
// turns it on when the reasoning directive was injected; without it, markers
// in backend text are ordinary content and stream through untouched.
func (w *Writer) EnableTagParsing() { w.parseTags = true }

// WriteContent routes backend textual content. With tag parsing armed,
// reasoning markers embedded in it are recovered as thinking; everything
// else streams as text.
func (w *Writer) WriteContent(text string) error {
	if !w.parseTags {
		return w.writeText(text)
	}
	for _, seg := range w.splitter.ProcessChunk(text) {
		if err := w.writeSegment(seg); err != nil {
			return err
		}
	}
	return w.err
}

// FlushContent drains the splitter at end of a backend stream. Held-back
// partial markers come out literally.
func (w *Writer) FlushContent() error {
	for _, seg := range w.splitter.Flush() {
		if err := w.writeSegment(seg); err != nil {
			return err
		}
	}
	return w.err
}

func (w *Writer) writeSegment(seg reasoning.Segment) error {
	if seg.Kind == reasoning.SegmentThinking {
		return w.writeParsedThinking(seg.Text)
	}
	return w.writeText(seg.Text)
}

func (w *Writer) writeText(text string) error {
	if text == "" {
		return w.err
	}
	if err := w.EnsureStart(); err != nil {
		return err
	}
	if w.activeText < 0 {
		if err := w.closeChannels(); err != nil {
			return err
		}
		idx := w.nextIndex
		w.nextIndex++
		if err := w.emit(claude.EventContentBlockStart, claude.BlockStartPayload(idx, claude.TextBlock(""))); err != nil {
			return err
		}
		w.activeText = idx
	}
	return w.emit(claude.EventContentBlockDelta, claude.TextDeltaPayload(w.activeText, text))
}

// WriteThinking streams reasoning delivered on the backend's dedicated field.
// A dedicated field means marker recovery is not needed; parsing turns off so
// markers in the remaining content pass through as text.
func (w *Writer) WriteThinking(text string) error {
	if text == "" {
		return w.err
	}
	if w.parseTags {
		w.parseTags = false
		if err := w.FlushContent(); err != nil {
			return err
		}
	}
	if err := w.EnsureStart(); err != nil {
		return err
	}
	if w.activeThinking < 0 {
		if err := w.closeChannels(); err != nil {
			return err
		}
		idx := w.nextIndex
		w.nextIndex++
		if err := w.emit(claude.EventContentBlockStart, claude.BlockStartPayload(idx, claude.ThinkingBlock(""))); err != nil {
			return err
		}
		w.activeThinking = idx
	}
	return w.emit(claude.EventContentBlockDelta, claude.ThinkingDeltaPayload(w.activeThinking, text))
}

func (w *Writer) writeParsedThinking(text string) error {
	if text == "" {
		return w.err
	}
	if err := w.EnsureStart(); err != nil {
		return err
	}
	if w.activeParsed < 0 {
		if err := w.closeChannels(); err != nil {
			return err
		}
		idx := w.nextIndex
		w.nextIndex++
		if err := w.emit(claude.EventContentBlockStart, claude.BlockStartPayload(idx, claude.ThinkingBlock(""))); err != nil {
			return err
		}
		w.activeParsed = idx
	}
	return w.emit(claude.EventContentBlockDelta, claude.ThinkingDeltaPayload(w.activeParsed, text))
}

// OpenToolBlock starts a tool_use block and returns its index.
func (w *Writer) OpenToolBlock(id, name string) (int, error) {
	if err := w.EnsureStart(); err != nil {
		return 0, err
	}
	if err := w.closeChannels(); err != nil {
		return 0, err
	}
	idx := w.nextIndex
	w.nextIndex++
	block := claude.ContentBlock{Type: claude.BlockToolUse, ID: id, Name: name, Input: map[string]any{}}
	if err := w.emit(claude.EventContentBlockStart, claude.BlockStartPayload(idx, block)); err != nil {
		return 0, err
	}
	w.openTools[idx] = true
	return idx, nil
}

// WriteToolArgs streams an arguments fragment into an open tool block.
func (w *Writer) WriteToolArgs(index int, fragment string) error {
	if fragment == "" {
		return w.err
	}
	return w.emit(claude.EventContentBlockDelta, claude.InputJSONDeltaPayload(index, fragment))
}

// CloseToolBlock closes one tool block.
func (w *Writer) CloseToolBlock(index int) error {
	if !w.openTools[index] {
		return w.err
	}
	delete(w.openTools, index)
	return w.emit(claude.EventContentBlockStop, claude.BlockStopPayload(index))
}

// closeChannels closes any open text or thinking block.
func (w *Writer) closeChannels() error {
	for _, idx := range []*int{&w.activeText, &w.activeThinking, &w.activeParsed} {
		if *idx >= 0 {
			if err := w.emit(claude.EventContentBlockStop, claude.BlockStopPayload(*idx)); err != nil {
				return err
			}
			*idx = -1
		}
	}
	return nil
}

// CloseAllBlocks closes every open block, tool blocks included.
func (w *Writer) CloseAllBlocks() error {
	if err := w.closeChannels(); err != nil {
		return err
	}
	for idx := range w.openTools {
		delete(w.openTools, idx)
		if err := w.emit(claude.EventContentBlockStop, claude.BlockStopPayload(idx)); err != nil {
			return err
		}
	}
	return nil
}

// FinalStopReason returns the stop reason sent by Finish, empty until then.
func (w *Writer) FinalStopReason() string { return w.finalStop }

// FinalUsage returns the usage sent by Finish.
func (w *Writer) FinalUsage() claude.Usage { return w.finalUsage }

// Finish closes open blocks and terminates the stream normally.
func (w *Writer) Finish(stopReason string, usage claude.Usage) error {
	w.finalStop = stopReason
	w.finalUsage = usage
	if err := w.EnsureStart(); err != nil {
		return err
	}
	if err := w.FlushContent(); err != nil {
		return err
	}
	if err := w.CloseAllBlocks(); err != nil {
		return err
	}
	if err := w.emit(claude.EventMessageDelta, claude.MessageDeltaPayload(stopReason, usage)); err != nil {
		return err
	}
	return w.emit(claude.EventMessageStop, claude.MessageStopPayload())
}

// Fail terminates the stream with an error event. No message_stop follows so
// clients can tell truncation from completion.
func (w *Writer) Fail(errType, message string) error {
	return w.emit(claude.EventError, claude.ErrorPayload(errType, message))
}
