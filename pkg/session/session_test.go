package session

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCookieHeader(t *testing.T) {
	tc := TransferContext{Cookies: map[string]string{"a": "1"}}
	assert.Equal(t, "a=1", tc.CookieHeader())

	tc = TransferContext{}
	assert.Equal(t, "", tc.CookieHeader())
}

func TestCloneIsIndependent(t *testing.T) {
	tc := TransferContext{Cookies: map[string]string{"a": "1"}}

	clone := tc.Clone()
	clone.Cookies["a"] = "2"

	assert.Equal(t, "1", tc.Cookies["a"])
}

func TestNeedsInfoLookup(t *testing.T) {
	res := Resolved{AssetURL: "https://example.zoom.us/nws/recording/1.0/play/info/REC123"}
	assert.True(t, res.NeedsInfoLookup())

	res = Resolved{AssetURL: "https://ssrweb.zoom.us/replay/stream.mp4"}
	assert.False(t, res.NeedsInfoLookup())
}

func TestKindOf(t *testing.T) {
	err := &Error{Kind: AssetNotFound, State: StateAwaitingAsset}
	assert.Equal(t, AssetNotFound, KindOf(err))
	assert.Equal(t, AssetNotFound, KindOf(errors.Wrap(err, "outer")))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

type originTest struct {
	url    string
	output string
}

var originTests = []originTest{
	{"https://example.zoom.us/nws/recording/1.0/play/info/REC?x=1", "https://example.zoom.us"},
	{"http://host:8080/path", "http://host:8080"},
	{"not a url", ""},
}

func TestOriginOf(t *testing.T) {
	for _, v := range originTests {
		assert.Equal(t, v.output, originOf(v.url))
	}
}
