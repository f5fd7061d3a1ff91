package tts

import (
	"context"
	"errors"
	"testing"
)

func TestUnconfigured_FailsWithoutPanic(t *testing.T) {
	t.Parallel()

	for _, u := range []Unconfigured{{}, {Name: "google"}} {
		clip, err := u.Synthesize(context.Background(), "text", VoiceProfile{})
		if clip != nil {
			t.Errorf("clip = %v, want nil", clip)
		}
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("err = %v, want ErrNotConfigured", err)
		}
	}
}
