// Package sheets wraps the Google Sheets API for the reconciler: reading
// upload worksheets and writing status markers back.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
)

// Client talks to one Google Sheets service account. Worksheet title and
// status column come from configuration and are shared by all channels.
type Client struct {
	svc           *sheetsapi.Service
	worksheetName string
	statusColumn  int

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewClient builds a Sheets client from the service-account JSON blob.
func NewClient(ctx context.Context, cfg config.SheetsConfig) (*Client, error) {
	if cfg.CredentialsJSON == "" {
		return nil, &domain.Error{Kind: domain.KindConfig, Op: "sheets.new", Msg: "service account credentials are required"}
	}
	svc, err := sheetsapi.NewService(ctx, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindConfig, Op: "sheets.new", Err: err}
	}
	return &Client{
		svc:           svc,
		worksheetName: cfg.WorksheetName,
		statusColumn:  cfg.StatusColumn,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// StatusColumn reports the 1-based column status markers live in.
func (c *Client) StatusColumn() int { return c.statusColumn }

// ReadRows returns the populated rows of the upload worksheet. The outer
// index is 0-based from the top of the sheet; cells beyond the last
// populated one in a row are absent.
func (c *Client) ReadRows(ctx context.Context, spreadsheetID string) ([][]string, error) {
	rng := fmt.Sprintf("%s!A:Z", c.worksheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError("sheets.read", err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, fmt.Sprint(cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteStatus sets the status marker of a 1-based sheet row and formats
// the cell with black text so manual red/orange highlighting is cleared.
func (c *Client) WriteStatus(ctx context.Context, spreadsheetID string, row int, status string) error {
	cell := fmt.Sprintf("%s!%s%d", c.worksheetName, columnLetter(c.statusColumn), row)
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{{status}}}
	_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, cell, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return classifyAPIError("sheets.write", err)
	}

	sheetID, err := c.sheetID(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: &sheetsapi.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    int64(row - 1),
					EndRowIndex:      int64(row),
					StartColumnIndex: int64(c.statusColumn - 1),
					EndColumnIndex:   int64(c.statusColumn),
				},
				Cell: &sheetsapi.CellData{
					UserEnteredFormat: &sheetsapi.CellFormat{
						TextFormat: &sheetsapi.TextFormat{
							ForegroundColor: &sheetsapi.Color{Red: 0, Green: 0, Blue: 0},
						},
					},
				},
				Fields: "userEnteredFormat.textFormat.foregroundColor",
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classifyAPIError("sheets.format", err)
	}
	return nil
}

// sheetID resolves and caches the numeric grid id of the upload worksheet.
func (c *Client) sheetID(ctx context.Context, spreadsheetID string) (int64, error) {
	c.mu.Lock()
	if id, ok := c.sheetIDs[spreadsheetID]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	meta, err := c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, classifyAPIError("sheets.meta", err)
	}
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == c.worksheetName {
			c.mu.Lock()
			c.sheetIDs[spreadsheetID] = s.Properties.SheetId
			c.mu.Unlock()
			return s.Properties.SheetId, nil
		}
	}
	return 0, &domain.Error{
		Kind: domain.KindPermanentReject,
		Op:   "sheets.meta",
		Msg:  fmt.Sprintf("worksheet %q not found in spreadsheet %s", c.worksheetName, spreadsheetID),
	}
}

// columnLetter converts a 1-based column index to its A1 letter form.
func columnLetter(col int) string {
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}

func classifyAPIError(op string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == http.StatusTooManyRequests:
			return &domain.Error{Kind: domain.KindQuotaExceeded, Op: op, Msg: ge.Message, Err: err}
		case ge.Code == http.StatusUnauthorized || ge.Code == http.StatusForbidden:
			return &domain.Error{Kind: domain.KindAuthRevoked, Op: op, Msg: ge.Message, Err: err}
		case ge.Code >= 400 && ge.Code < 500:
			return &domain.Error{Kind: domain.KindPermanentReject, Op: op, Msg: ge.Message, Err: err}
		}
	}
	return &domain.Error{Kind: domain.KindTransient, Op: op, Err: err}
}
