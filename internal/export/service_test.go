package export

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"certhub/constants"
	"certhub/internal/profile"
)

func TestRosterXLSX(t *testing.T) {
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap := profile.Snapshot{Profiles: []*profile.Profile{
		{
			ID:          "aaaa1111",
			NameCN:      "孙建芬",
			NamePinyin:  "Sun, JianFen",
			Birthday:    profile.ParseDate("1948-03-05"),
			BaptismDate: profile.ParseDate("1975-12-25"),
			Status:      constants.StatusReviewed,
		},
		{ID: "bbbb2222", Status: constants.StatusUploaded},
	}}

	b, err := svc.RosterXLSX(snap)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Roster")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, []string{"ID", "Name (CN)", "Name (Pinyin)", "Birthday", "Baptism Date", "Status"}, rows[0])
	require.Equal(t, []string{"aaaa1111", "孙建芬", "Sun, JianFen", "1948-03-05", "1975-12-25", "reviewed"}, rows[1])
	require.Equal(t, "bbbb2222", rows[2][0])
	require.Equal(t, "uploaded", rows[2][len(rows[2])-1])
}

func TestRosterXLSXEmpty(t *testing.T) {
	svc := NewService(nil)
	b, err := svc.RosterXLSX(profile.Snapshot{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Roster")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
