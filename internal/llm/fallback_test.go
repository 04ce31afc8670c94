package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	resp  Response
	err   error
	calls int
}

func (s *stubClient) Complete(_ context.Context, _ Request) (Response, error) {
	s.calls++
	if s.err != nil {
		return Response{}, s.err
	}
	return s.resp, nil
}

func TestFallbackClientPrefersPrimary(t *testing.T) {
	primary := &stubClient{resp: Response{Text: "primary"}}
	fallback := &stubClient{resp: Response{Text: "fallback"}}
	client := NewFallbackClient(primary, fallback, nil)

	resp, err := client.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Text)
	assert.Zero(t, fallback.calls)
}

func TestFallbackClientFallsBack(t *testing.T) {
	primary := &stubClient{err: errors.New("throttled")}
	fallback := &stubClient{resp: Response{Text: "fallback"}}
	client := NewFallbackClient(primary, fallback, nil)

	resp, err := client.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)
}

func TestFallbackClientReturnsLastError(t *testing.T) {
	primaryErr := errors.New("primary down")
	fallbackErr := errors.New("fallback down")
	client := NewFallbackClient(&stubClient{err: primaryErr}, &stubClient{err: fallbackErr}, nil)

	_, err := client.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, fallbackErr)
}

func TestFallbackClientWithoutFallback(t *testing.T) {
	primaryErr := errors.New("primary down")
	client := NewFallbackClient(&stubClient{err: primaryErr}, nil, nil)

	_, err := client.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, primaryErr)
}
