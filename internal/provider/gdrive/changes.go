package gdrive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dl-alexandre/cloudmirror/internal/api"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"google.golang.org/api/drive/v3"
)

const cursorVersion = 1

// driveCursor is what SkipUnchanged keeps between ticks
type driveCursor struct {
	Version        int    `json:"v"`
	StartPageToken string `json:"startPageToken"`
}

func encodeCursor(token string) types.SyncCursor {
	data, _ := json.Marshal(driveCursor{Version: cursorVersion, StartPageToken: token})
	return data
}

func decodeCursor(cursor types.SyncCursor) (string, error) {
	if cursor.IsEmpty() {
		return "", nil
	}
	var c driveCursor
	if err := json.Unmarshal(cursor, &c); err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	if c.Version != cursorVersion {
		return "", fmt.Errorf("unsupported cursor version %d", c.Version)
	}
	return c.StartPageToken, nil
}

func (p *Provider) startPageToken(ctx context.Context) (string, error) {
	reqCtx := api.NewRequestContext(ctx, ID, p.opts.DriveID, types.RequestTypeChanges)
	call := p.client.Service().Changes.GetStartPageToken().SupportsAllDrives(true).Context(ctx)
	if p.opts.DriveID != "" {
		call = call.DriveId(p.opts.DriveID)
	}
	result, err := api.ExecuteWithRetry(ctx, p.client, reqCtx, func() (*drive.StartPageToken, error) {
		return call.Do()
	})
	if err != nil {
		return "", err
	}
	return result.StartPageToken, nil
}

func (p *Provider) changesCall(ctx context.Context, pageToken string) *drive.ChangesListCall {
	call := p.client.Service().Changes.List(pageToken).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		IncludeRemoved(true).
		Fields("nextPageToken,newStartPageToken,changes(fileId,removed)").
		Context(ctx)
	if p.opts.DriveID != "" {
		call = call.DriveId(p.opts.DriveID)
	}
	return call
}

// hasChanges pages through the Changes feed from token. It reports whether
// anything changed and the token to resume from afterwards.
func (p *Provider) hasChanges(ctx context.Context, token string) (bool, string, error) {
	reqCtx := api.NewRequestContext(ctx, ID, p.opts.DriveID, types.RequestTypeChanges)

	changed := false
	pageToken := token
	for {
		call := p.changesCall(ctx, pageToken)
		result, err := api.ExecuteWithRetry(ctx, p.client, reqCtx, func() (*drive.ChangeList, error) {
			return call.Do()
		})
		if err != nil {
			return false, "", err
		}
		if len(result.Changes) > 0 {
			changed = true
		}
		if result.NewStartPageToken != "" {
			return changed, result.NewStartPageToken, nil
		}
		if result.NextPageToken == "" {
			return changed, "", nil
		}
		pageToken = result.NextPageToken
	}
}
