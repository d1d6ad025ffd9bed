package earnings

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *FinnhubClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewFinnhubClient("test-key", log.New(io.Discard, "", 0)).
		WithBaseURL(server.URL).
		WithHTTPClient(server.Client())
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
}

func TestFinnhubClient_FetchNextEarningsDate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/calendar/earnings", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BIDU", q.Get("symbol"))
		assert.Equal(t, "test-key", q.Get("token"))
		assert.Equal(t, "2024-05-19", q.Get("from"))
		assert.Equal(t, "2024-08-28", q.Get("to"))
		fmt.Fprint(w, `{"earningsCalendar":[
			{"date":"2024-05-21","symbol":"BIDU"},
			{"date":"2024-08-20","symbol":"BIDU"}
		]}`)
	})
	client.now = fixedNow

	date, err := client.FetchNextEarningsDate("BIDU")
	require.NoError(t, err)
	assert.True(t, date.Equal(time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC)),
		"want last calendar entry, got %s", date)
}

func TestFinnhubClient_EmptyCalendarReturnsSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"earningsCalendar":[]}`)
	})

	date, err := client.FetchNextEarningsDate("BIDU")
	require.NoError(t, err)
	assert.True(t, date.Equal(FarFuture))
}

func TestFinnhubClient_ServerErrorDegradesToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	date, err := client.FetchNextEarningsDate("BIDU")
	require.NoError(t, err)
	assert.True(t, date.Equal(FarFuture))
}

func TestFinnhubClient_BadDateDegradesToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"earningsCalendar":[{"date":"soon","symbol":"BIDU"}]}`)
	})

	date, err := client.FetchNextEarningsDate("BIDU")
	require.NoError(t, err)
	assert.True(t, date.Equal(FarFuture))
}

func TestFinnhubClient_LookaheadBoundsQuery(t *testing.T) {
	var gotTo string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTo = r.URL.Query().Get("to")
		fmt.Fprint(w, `{"earningsCalendar":[]}`)
	})
	client.now = fixedNow
	client.WithLookahead(10)

	_, err := client.FetchNextEarningsDate("BIDU")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-30", gotTo)
}

func TestDisabled_AlwaysFarFuture(t *testing.T) {
	date, err := Disabled{}.FetchNextEarningsDate("ANY")
	require.NoError(t, err)
	assert.True(t, date.Equal(FarFuture))
}
