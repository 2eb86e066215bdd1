package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"larkspur.is/curfew/internal/remote"
)

func TestGetIsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	assert.Same(t, a, b)
}

func TestErrorClass(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "other"},
		{remote.ErrUnauthorized, "unauthorized"},
		{remote.ErrNotFound, "not_found"},
		{remote.ErrBadRequest, "bad_request"},
		{remote.ErrUnreachable, "unreachable"},
		{fmt.Errorf("fetch: %w", remote.ErrUnreachable), "unreachable"},
		{fmt.Errorf("plain"), "other"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errorClass(c.err), "err=%v", c.err)
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "error", outcome(fmt.Errorf("boom")))
}
