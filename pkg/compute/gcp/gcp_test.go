package gcp

import (
	"testing"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestInstanceName_TruncatesLongTokens(t *testing.T) {
	name := instanceName("abcdefghijklmnopqrstuvwxyz")
	assert.Equal(t, "orbiter-abcdefghijklmnopqrst", name)
}

func TestWrapErr_ClassifiesGoogleAPIError(t *testing.T) {
	err := wrapErr("gcp-1", &googleapi.Error{Code: 404, Message: "not found"})
	assert.Equal(t, compute.KindNotFound, compute.KindOf(err))

	err = wrapErr("gcp-1", &googleapi.Error{Code: 403, Message: "forbidden"})
	assert.Equal(t, compute.KindConfiguration, compute.KindOf(err))
}

func TestWrapErr_NilIsNil(t *testing.T) {
	assert.Nil(t, wrapErr("gcp-1", nil))
}
