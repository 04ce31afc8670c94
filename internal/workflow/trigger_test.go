package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func detectorMessages(pairs ...[2]string) []Message {
	msgs := make([]Message, 0, len(pairs))
	for i, p := range pairs {
		msgs = append(msgs, Message{Role: p[0], Content: p[1], Seq: i + 1})
	}
	return msgs
}

func TestPhraseDetector(t *testing.T) {
	detector := NewPhraseDetector([]string{"let me take a look", "let me check", "checking that for you"})

	tests := []struct {
		name       string
		messages   []Message
		want       bool
		wantPhrase string
	}{
		{
			name: "matches latest rep message",
			messages: detectorMessages(
				[2]string{RoleCustomer, "How do I reset my 401k password?"},
				[2]string{RoleRepresentative, "Let me check that for you."},
			),
			want:       true,
			wantPhrase: "let me check",
		},
		{
			name: "case insensitive",
			messages: detectorMessages(
				[2]string{RoleRepresentative, "LET ME TAKE A LOOK at that"},
			),
			want:       true,
			wantPhrase: "let me take a look",
		},
		{
			name: "ignores older rep matches",
			messages: detectorMessages(
				[2]string{RoleRepresentative, "Let me check on that."},
				[2]string{RoleCustomer, "Thanks!"},
				[2]string{RoleRepresentative, "Here is what I found."},
			),
			want: false,
		},
		{
			name: "customer phrases never trigger",
			messages: detectorMessages(
				[2]string{RoleCustomer, "Can you let me check my balance?"},
			),
			want: false,
		},
		{
			name:     "empty history",
			messages: nil,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, phrase := detector.Detect(tt.messages)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantPhrase, phrase)
		})
	}
}

func TestPhraseDetectorNormalizesConfiguredPhrases(t *testing.T) {
	detector := NewPhraseDetector([]string{"  Hold On A Sec  ", ""})

	got, phrase := detector.Detect(detectorMessages(
		[2]string{RoleRepresentative, "hold on a sec while I dig in"},
	))
	assert.True(t, got)
	assert.Equal(t, "hold on a sec", phrase)
}
