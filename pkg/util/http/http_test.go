package http

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type addTest struct {
	resp   http.Response
	output bool
}

var tests = []addTest{
	{http.Response{StatusCode: 200}, true},
	{http.Response{StatusCode: 102}, false},
	{http.Response{StatusCode: 206}, true},
	{http.Response{StatusCode: 301}, false},
	{http.Response{StatusCode: 404}, false},
	{http.Response{StatusCode: 500}, false},
}

func TestIsSuccessStatusCode(t *testing.T) {
	for _, v := range tests {
		res := isSuccessStatusCode(&v.resp)
		assert.Equal(t, res, v.output, fmt.Sprintf("output %t not equal to expected %t", res, v.output))
	}
}

func TestEnsureSuccessStatusCode(t *testing.T) {
	for _, v := range tests {
		err := EnsureSuccessStatusCode(&v.resp)
		assert.Equal(t, v.output, err == nil, fmt.Sprintf("output %t not equal to expected %t", err == nil, v.output))
	}
}

type retryTest struct {
	code   int
	output bool
}

var retryTests = []retryTest{
	{200, false},
	{401, false},
	{403, false},
	{404, false},
	{408, true},
	{429, true},
	{500, true},
	{503, true},
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, v := range retryTests {
		res := IsRetryableStatusCode(v.code)
		assert.Equal(t, v.output, res, fmt.Sprintf("status %d: output %t not equal to expected %t", v.code, res, v.output))
	}
}
