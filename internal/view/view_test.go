package view

import "testing"

func TestBroadcast_AddRemove(t *testing.T) {
	t.Parallel()

	var a, b Recorder
	bc := NewBroadcast(&a)
	remove := bc.Add(&b)

	bc.Emit(Event{Kind: KindFade})
	remove()
	bc.Emit(Event{Kind: KindFade})

	if a.Count(KindFade) != 2 {
		t.Errorf("a got %d events, want 2", a.Count(KindFade))
	}
	if b.Count(KindFade) != 1 {
		t.Errorf("b got %d events, want 1", b.Count(KindFade))
	}
}

func TestRecorder_DerivedState(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Emit(Event{Kind: KindScreen, Screen: "quiz1"})
	r.Emit(Event{Kind: KindLoading, Stage: "stage1", Active: true})
	r.Emit(Event{Kind: KindLoading, Stage: "stage1"})
	r.Emit(Event{Kind: KindAssistantChunk, Turn: 1, Text: "お"})
	r.Emit(Event{Kind: KindAssistantChunk, Turn: 1, Text: "う"})
	r.Emit(Event{Kind: KindAssistantEnd, Turn: 1})

	if r.Screen() != "quiz1" {
		t.Errorf("Screen = %q", r.Screen())
	}
	if r.Loading("stage1") {
		t.Error("loading still shown")
	}
	if r.Revealed(1) != "おう" {
		t.Errorf("Revealed = %q", r.Revealed(1))
	}
	if r.Ended(1) != 1 {
		t.Errorf("Ended = %d", r.Ended(1))
	}
}
