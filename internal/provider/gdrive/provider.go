// Package gdrive mirrors a Google Drive folder by walking its tree on every fetch.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/api"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// ID is the provider identifier used for cursor files and credentials
const ID = "googledrive"

const listFields = "nextPageToken,files(id,name,mimeType,size,modifiedTime,md5Checksum,trashed)"

// Options configures the Drive provider
type Options struct {
	// Folder is the root folder, given either as a file ID or as a folder name.
	Folder string
	// DriveID restricts listing to a shared drive.
	DriveID string
	// SkipUnchanged consults the Drive Changes feed and skips the rebuild when nothing changed.
	SkipUnchanged bool
}

// Provider walks a Drive folder tree. Every batch it returns is a full rebuild.
type Provider struct {
	client *api.Client
	opts   Options
	logger logging.Logger

	rootID string
}

// New creates a Drive provider
func New(client *api.Client, opts Options, logger logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Provider{client: client, opts: opts, logger: logger}
}

func (p *Provider) ID() string {
	return ID
}

// FetchChanges lists the whole remote tree. With SkipUnchanged set and a
// cursor from an earlier rebuild, an empty Changes feed yields an empty batch.
func (p *Provider) FetchChanges(ctx context.Context, cursor types.SyncCursor) (*types.ChangeBatch, error) {
	logger := p.logger.WithContext(ctx)

	rootID, err := p.resolveRoot(ctx)
	if err != nil {
		return nil, err
	}

	var nextToken string
	if p.opts.SkipUnchanged {
		token, err := decodeCursor(cursor)
		if err != nil {
			logger.Warn("Ignoring unreadable Drive cursor", logging.F("error", err.Error()))
		}
		if token != "" {
			changed, newToken, err := p.hasChanges(ctx, token)
			if err != nil {
				return nil, err
			}
			if !changed {
				logger.Debug("Drive reports no changes since last rebuild")
				return &types.ChangeBatch{NextCursor: cursor}, nil
			}
			nextToken = newToken
		}
		if nextToken == "" {
			// Taken before the walk so changes made during it show up next tick.
			if nextToken, err = p.startPageToken(ctx); err != nil {
				return nil, err
			}
		}
	}

	entries, err := p.walk(ctx, rootID)
	if err != nil {
		return nil, err
	}

	batch := &types.ChangeBatch{ResetRequested: true, Entries: entries}
	if nextToken != "" {
		batch.NextCursor = encodeCursor(nextToken)
	}
	logger.Info("Listed Drive folder",
		logging.F("rootId", rootID),
		logging.F("entries", len(entries)),
	)
	return batch, nil
}

// Open downloads the content of a file entry
func (p *Provider) Open(ctx context.Context, entry types.ChangeEntry) (io.ReadCloser, error) {
	reqCtx := api.NewRequestContext(ctx, ID, p.opts.DriveID, types.RequestTypeDownload)
	call := p.client.Service().Files.Get(entry.RemoteID).SupportsAllDrives(true).Context(ctx)

	resp, err := api.ExecuteWithRetry(ctx, p.client, reqCtx, func() (*http.Response, error) {
		return call.Download()
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// resolveRoot finds the root folder by ID first, then by name. A root found
// on an earlier fetch is checked again, so a root trashed or deleted since
// stops the sync instead of looking like an empty folder.
func (p *Provider) resolveRoot(ctx context.Context) (string, error) {
	if p.rootID != "" {
		if _, err := p.liveFolder(ctx, p.rootID); err != nil {
			if utils.ErrorCode(err) == utils.ErrCodeRemoteRootNotFound {
				p.rootID = ""
			}
			return "", err
		}
		return p.rootID, nil
	}
	folder := strings.TrimSpace(p.opts.Folder)
	if folder == "" {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeConfigInvalid,
			"googleDrive.folder is not configured").Build())
	}

	id, err := p.liveFolder(ctx, folder)
	switch {
	case err == nil:
		p.rootID = id
		return p.rootID, nil
	case utils.ErrorCode(err) != utils.ErrCodeFileNotFound:
		return "", err
	}

	query := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false", utils.MimeTypeFolder, escapeQuery(folder))
	list := p.listCall(query).Fields("files(id,name)").Context(ctx)
	reqCtx := api.NewRequestContext(ctx, ID, p.opts.DriveID, types.RequestTypeListOrSearch)
	result, err := api.ExecuteWithRetry(ctx, p.client, reqCtx, func() (*drive.FileList, error) {
		return list.Do()
	})
	if err != nil {
		return "", err
	}
	if len(result.Files) == 0 {
		return "", rootNotFound(folder, "No Drive folder named %q", nil)
	}
	if len(result.Files) > 1 {
		p.logger.Warn("Several Drive folders share the configured name, using the first",
			logging.F("folder", folder),
			logging.F("matches", len(result.Files)),
		)
	}
	p.rootID = result.Files[0].Id
	return p.rootID, nil
}

// liveFolder fetches id and requires it to be an untrashed folder. A
// missing ID is FILE_NOT_FOUND so callers can fall back to a name lookup.
func (p *Provider) liveFolder(ctx context.Context, id string) (string, error) {
	reqCtx := api.NewRequestContext(ctx, ID, p.opts.DriveID, types.RequestTypeGetByID)
	call := p.client.Service().Files.Get(id).
		SupportsAllDrives(true).
		Fields(googleapi.Field("id,mimeType,trashed")).
		Context(ctx)
	file, err := api.ExecuteWithRetry(ctx, p.client, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		if id == p.rootID && utils.ErrorCode(err) == utils.ErrCodeFileNotFound {
			return "", rootNotFound(id, "Drive root folder %q no longer exists", err)
		}
		return "", err
	}
	if file.MimeType != utils.MimeTypeFolder || file.Trashed {
		return "", rootNotFound(id, "Drive item %q is not a live folder", nil)
	}
	return file.Id, nil
}

func rootNotFound(folder, format string, cause error) error {
	cliErr := utils.NewCLIError(utils.ErrCodeRemoteRootNotFound, fmt.Sprintf(format, folder)).
		WithContext("folder", folder).
		Build()
	if cause != nil {
		return utils.WrapAppError(cliErr, cause)
	}
	return utils.NewAppError(cliErr)
}

type folderNode struct {
	id   string
	path string
}

// walk lists the tree depth first so a directory entry always precedes its children
func (p *Provider) walk(ctx context.Context, rootID string) ([]types.ChangeEntry, error) {
	var entries []types.ChangeEntry
	stack := []folderNode{{id: rootID}}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := p.listChildren(ctx, node.id)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			continue
		}
		if node.path != "" {
			entries = append(entries, types.ChangeEntry{
				Path:      node.path,
				Kind:      types.KindDirectory,
				Operation: types.OpCreate,
				RemoteID:  node.id,
			})
		}

		var subfolders []folderNode
		for _, child := range children {
			rel := path.Join(node.path, child.Name)
			if child.MimeType == utils.MimeTypeFolder {
				subfolders = append(subfolders, folderNode{id: child.Id, path: rel})
				continue
			}
			if !utils.HasBinaryContent(child.MimeType) {
				p.logger.Debug("Skipping Drive item without binary content",
					logging.F("path", rel),
					logging.F("mimeType", child.MimeType),
				)
				continue
			}
			entries = append(entries, toEntry(rel, child))
		}
		for i := len(subfolders) - 1; i >= 0; i-- {
			stack = append(stack, subfolders[i])
		}
	}
	return entries, nil
}

func (p *Provider) listChildren(ctx context.Context, parentID string) ([]*drive.File, error) {
	reqCtx := api.NewRequestContext(ctx, ID, p.opts.DriveID, types.RequestTypeListOrSearch)
	call := p.listCall("'" + escapeQuery(parentID) + "' in parents and trashed = false").
		Fields(listFields).
		Context(ctx)

	var results []*drive.File
	for {
		list, err := api.ExecuteWithRetry(ctx, p.client, reqCtx, func() (*drive.FileList, error) {
			return call.Do()
		})
		if err != nil {
			return nil, err
		}
		for _, f := range list.Files {
			if f.Trashed {
				continue
			}
			results = append(results, f)
		}
		if list.NextPageToken == "" {
			break
		}
		call = call.PageToken(list.NextPageToken)
	}
	return results, nil
}

func (p *Provider) listCall(query string) *drive.FilesListCall {
	call := p.client.Service().Files.List().Q(query).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)
	if p.opts.DriveID != "" {
		call = call.Corpora("drive").DriveId(p.opts.DriveID)
	}
	return call
}

func toEntry(rel string, f *drive.File) types.ChangeEntry {
	entry := types.ChangeEntry{
		Path:      rel,
		Kind:      types.KindFile,
		Operation: types.OpCreate,
		RemoteID:  f.Id,
		Size:      f.Size,
		Hash:      f.Md5Checksum,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		entry.ModifiedTime = t
	}
	return entry
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
