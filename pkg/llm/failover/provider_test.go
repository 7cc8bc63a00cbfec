package failover

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askzine/pkg/llm"
)

type stubProvider struct {
	text    string
	err     error
	calls   int
	healthy bool
}

func (s *stubProvider) GenerateText(context.Context, string, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubProvider) GenerateImage(context.Context, llm.ImageRequest) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.text), nil
}

func (s *stubProvider) HealthCheck(context.Context) error {
	if s.healthy {
		return nil
	}
	return errors.New("unhealthy")
}

func TestFailoverFallsThroughOnTransient(t *testing.T) {
	bad := &stubProvider{err: llm.Transient(errors.New("overloaded"))}
	good := &stubProvider{text: "ok"}

	f, err := New([]llm.Provider{bad, good}, []string{"bad", "good"}, nil)
	require.NoError(t, err)

	got, err := f.GenerateText(context.Background(), "captions", "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, bad.calls)

	// Transient failures do not disable the provider.
	_, err = f.GenerateText(context.Background(), "captions", "p")
	require.NoError(t, err)
	assert.Equal(t, 2, bad.calls)
}

func TestFailoverDisablesFatalProvider(t *testing.T) {
	bad := &stubProvider{err: llm.Fatal(errors.New("bad key"))}
	good := &stubProvider{text: "ok"}

	f, err := New([]llm.Provider{bad, good}, []string{"bad", "good"}, nil)
	require.NoError(t, err)

	_, err = f.GenerateText(context.Background(), "captions", "p")
	require.NoError(t, err)
	assert.Equal(t, 1, bad.calls)

	// The fatally-failed provider is skipped from now on.
	_, err = f.GenerateText(context.Background(), "captions", "p")
	require.NoError(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 2, good.calls)
}

func TestFailoverAllFail(t *testing.T) {
	wantErr := llm.Transient(errors.New("down"))
	a := &stubProvider{err: wantErr}
	b := &stubProvider{err: wantErr}

	f, err := New([]llm.Provider{a, b}, []string{"a", "b"}, nil)
	require.NoError(t, err)

	_, err = f.GenerateText(context.Background(), "captions", "p")
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err), "last error should keep its classification")
}

func TestHealthCheck(t *testing.T) {
	a := &stubProvider{}
	b := &stubProvider{healthy: true}

	f, err := New([]llm.Provider{a, b}, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.NoError(t, f.HealthCheck(context.Background()))

	onlyBad, err := New([]llm.Provider{a}, []string{"a"}, nil)
	require.NoError(t, err)
	assert.Error(t, onlyBad.HealthCheck(context.Background()))
}
