package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/worktrail/internal/core"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{0, "0s"},
		{-5, "0s"},
		{42, "42s"},
		{250, "4m10s"},
		{3900, "1h05m"},
		{36000, "10h00m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.secs), "secs=%d", tt.secs)
	}
}

func TestTable_TruncatesLastColumnToWidth(t *testing.T) {
	tbl := &table{headers: []string{"APP", "TITLE"}, width: 30}
	tbl.add("Code", strings.Repeat("長い題名", 20))

	var buf bytes.Buffer
	tbl.render(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "APP   TITLE"))
	assert.LessOrEqual(t, runewidth.StringWidth(lines[1]), 30)
	assert.True(t, strings.HasSuffix(lines[1], "…"))
}

func TestPrintActivities(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	list := []*core.Activity{
		{App: "Code", Project: "demo", Title: "main.rs", StartTime: start, Duration: 3900, Tickets: []string{"ABC-1"}},
		{App: "Manual", Project: "ops", Title: "on call", StartTime: start.Add(2 * time.Hour), Duration: 600, IsManual: true},
	}

	var buf bytes.Buffer
	printActivities(&buf, "2026-03-02", list)
	out := buf.String()

	assert.Contains(t, out, "2026-03-02 - 2 activities, 1h15m total")
	assert.Contains(t, out, "ABC-1")
	assert.Contains(t, out, "Manual ✎")
	demo := fmt.Sprintf("   %-24s %s\n", "demo", "1h05m")
	ops := fmt.Sprintf("   %-24s %s\n", "ops", "10m00s")
	require.Contains(t, out, demo)
	require.Contains(t, out, ops)
	assert.Less(t, strings.Index(out, demo), strings.Index(out, ops), "projects sorted by time")

	buf.Reset()
	printActivities(&buf, "2026-03-03", nil)
	assert.Equal(t, "No activities on 2026-03-03.\n", buf.String())
}

func TestMappingDetails(t *testing.T) {
	assert.Empty(t, mappingDetails(core.MappingValue{Project: "Alpha"}))
	assert.Equal(t, "activity=dev sap=S-1", mappingDetails(core.MappingValue{Project: "Alpha", Activity: "dev", SAPCode: "S-1"}))
}

func TestProbeDaemon(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"0.4.0","tracking":true}`))
	}))
	defer ts.Close()

	st, err := probeDaemon(strings.TrimPrefix(ts.URL, "http://"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", st.Status)
	assert.True(t, st.Tracking)
}

func TestProbeDaemon_NothingListening(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	_, err := probeDaemon(addr, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing listening")
}
