package constants_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"certhub/constants"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]constants.ProfileStatus{
		{constants.StatusUploaded, constants.StatusExtracted},
		{constants.StatusExtracted, constants.StatusGenerated},
		{constants.StatusGenerated, constants.StatusReviewed},
		{constants.StatusReviewed, constants.StatusGenerated},
	}
	for _, tr := range legal {
		require.True(t, constants.CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	// Skipping a stage or moving backwards (other than un-review) is illegal.
	require.False(t, constants.CanTransition(constants.StatusUploaded, constants.StatusGenerated))
	require.False(t, constants.CanTransition(constants.StatusExtracted, constants.StatusReviewed))
	require.False(t, constants.CanTransition(constants.StatusExtracted, constants.StatusUploaded))
	require.False(t, constants.CanTransition(constants.StatusReviewed, constants.StatusExtracted))
}

func TestAllowedExt(t *testing.T) {
	require.True(t, constants.AllowedExt(".JPG"))
	require.True(t, constants.AllowedExt("webp"))
	require.False(t, constants.AllowedExt(".pdf"))
	require.False(t, constants.AllowedExt(""))
}
