package sheets

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Client appends rows to Google spreadsheets.
type Client struct {
	svc *gsheets.Service
}

// NewClient authenticates as the service account described by serviceAccountJSON.
func NewClient(ctx context.Context, serviceAccountJSON []byte) (*Client, error) {
	jwt, err := google.JWTConfigFromJSON(serviceAccountJSON, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}
	return NewClientWithOptions(ctx, option.WithTokenSource(jwt.TokenSource(ctx)))
}

// NewClientWithOptions builds a client from raw API options.
func NewClientWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// AppendRows appends rows below the existing data of sheetName and returns how many rows were written.
func (c *Client) AppendRows(ctx context.Context, spreadsheetID, sheetName string, rows [][]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	resp, err := c.svc.Spreadsheets.Values.
		Append(spreadsheetID, sheetName, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("failed to append rows: %w", err)
	}
	if resp.Updates == nil {
		return len(rows), nil
	}
	return int(resp.Updates.UpdatedRows), nil
}
