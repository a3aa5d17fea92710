package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
)

// fakeSheetsAPI records the Sheets REST calls the client makes.
type fakeSheetsAPI struct {
	values      [][]interface{}
	sheetTitle  string
	metaCalls   int32
	updates     []string
	gridRanges  []sheetsapi.GridRange
	failWith    int
	failMessage string
}

func (f *fakeSheetsAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failWith != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.failWith)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": f.failWith, "message": f.failMessage},
			})
			return
		}

		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
			json.NewEncoder(w).Encode(sheetsapi.ValueRange{Values: f.values})
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/values/"):
			body, _ := io.ReadAll(r.Body)
			var vr sheetsapi.ValueRange
			require.NoError(t, json.Unmarshal(body, &vr))
			require.Len(t, vr.Values, 1)
			require.Len(t, vr.Values[0], 1)
			f.updates = append(f.updates, r.URL.Path+"="+vr.Values[0][0].(string))
			json.NewEncoder(w).Encode(sheetsapi.UpdateValuesResponse{})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			body, _ := io.ReadAll(r.Body)
			var req sheetsapi.BatchUpdateSpreadsheetRequest
			require.NoError(t, json.Unmarshal(body, &req))
			require.Len(t, req.Requests, 1)
			require.NotNil(t, req.Requests[0].RepeatCell)
			f.gridRanges = append(f.gridRanges, *req.Requests[0].RepeatCell.Range)
			json.NewEncoder(w).Encode(sheetsapi.BatchUpdateSpreadsheetResponse{})
		case r.Method == http.MethodGet:
			atomic.AddInt32(&f.metaCalls, 1)
			json.NewEncoder(w).Encode(sheetsapi.Spreadsheet{
				Sheets: []*sheetsapi.Sheet{
					{Properties: &sheetsapi.SheetProperties{SheetId: 77, Title: f.sheetTitle}},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func setupSheetsClient(t *testing.T, fake *fakeSheetsAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := sheetsapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	return &Client{
		svc:           svc,
		worksheetName: "Página1",
		statusColumn:  15,
		sheetIDs:      make(map[string]int64),
	}
}

func TestReadRows(t *testing.T) {
	fake := &fakeSheetsAPI{values: [][]interface{}{
		{"Canal", "Título", "Status"},
		{"UCabc", "video 1", "✅ done"},
		{"UCabc", 42},
	}}
	c := setupSheetsClient(t, fake)

	rows, err := c.ReadRows(context.Background(), "sheet-1")
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"UCabc", "video 1", "✅ done"}, rows[1])
	assert.Equal(t, []string{"UCabc", "42"}, rows[2], "non-string cells are stringified")
}

func TestWriteStatusUpdatesCellAndFormat(t *testing.T) {
	fake := &fakeSheetsAPI{sheetTitle: "Página1"}
	c := setupSheetsClient(t, fake)

	require.NoError(t, c.WriteStatus(context.Background(), "sheet-1", 4, "✅ done"))

	require.Len(t, fake.updates, 1)
	assert.Contains(t, fake.updates[0], "O4", "status column letter and 1-based row")
	assert.Contains(t, fake.updates[0], "=✅ done")

	require.Len(t, fake.gridRanges, 1)
	gr := fake.gridRanges[0]
	assert.Equal(t, int64(77), gr.SheetId)
	assert.Equal(t, int64(3), gr.StartRowIndex)
	assert.Equal(t, int64(4), gr.EndRowIndex)
	assert.Equal(t, int64(14), gr.StartColumnIndex)
	assert.Equal(t, int64(15), gr.EndColumnIndex)
}

func TestWriteStatusCachesSheetID(t *testing.T) {
	fake := &fakeSheetsAPI{sheetTitle: "Página1"}
	c := setupSheetsClient(t, fake)

	require.NoError(t, c.WriteStatus(context.Background(), "sheet-1", 2, "❌ Erro"))
	require.NoError(t, c.WriteStatus(context.Background(), "sheet-1", 3, "❌ Erro"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.metaCalls))
}

func TestWriteStatusMissingWorksheet(t *testing.T) {
	fake := &fakeSheetsAPI{sheetTitle: "Outra Aba"}
	c := setupSheetsClient(t, fake)

	err := c.WriteStatus(context.Background(), "sheet-1", 2, "✅ done")
	require.Error(t, err)
	assert.Equal(t, domain.KindPermanentReject, domain.KindOf(err))
}

func TestReadRowsForbiddenIsAuthRevoked(t *testing.T) {
	fake := &fakeSheetsAPI{failWith: http.StatusForbidden, failMessage: "The caller does not have permission"}
	c := setupSheetsClient(t, fake)

	_, err := c.ReadRows(context.Background(), "sheet-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthRevoked, domain.KindOf(err))
}

func TestReadRowsQuota(t *testing.T) {
	fake := &fakeSheetsAPI{failWith: http.StatusTooManyRequests, failMessage: "Quota exceeded"}
	c := setupSheetsClient(t, fake)

	_, err := c.ReadRows(context.Background(), "sheet-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindQuotaExceeded, domain.KindOf(err))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), config.SheetsConfig{})
	require.Error(t, err)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{
		1: "A", 15: "O", 26: "Z", 27: "AA", 52: "AZ", 702: "ZZ", 703: "AAA",
	}
	for col, want := range cases {
		assert.Equal(t, want, columnLetter(col))
	}
}
