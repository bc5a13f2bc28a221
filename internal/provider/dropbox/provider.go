// Package dropbox mirrors a Dropbox folder through the list_folder delta feed.
package dropbox

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/api"
	"github.com/dl-alexandre/cloudmirror/internal/errors"
	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/dl-alexandre/cloudmirror/pkg/version"
	"github.com/imroc/req/v3"
	"golang.org/x/oauth2"
)

// ID is the provider identifier used for cursor files and credentials
const ID = "dropbox"

const (
	endpointList     = "files/list_folder"
	endpointContinue = "files/list_folder/continue"
	endpointDownload = "files/download"
)

// Options configures the Dropbox provider
type Options struct {
	// Root is the folder to mirror, "" or "/" for the whole account.
	Root string
	// APIURL and ContentURL override the Dropbox hosts.
	APIURL     string
	ContentURL string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// Debug logs every HTTP round trip when set.
	Debug *logging.DebugTransport
}

// Provider reads the Dropbox delta feed. An empty cursor lists the whole
// folder and asks the caller to rebuild the mirror.
type Provider struct {
	client     *req.Client
	root       string
	rootLower  string
	apiURL     string
	contentURL string
	logger     logging.Logger
}

// New creates a Dropbox provider authorized by ts
func New(ts oauth2.TokenSource, opts Options, logger logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.APIURL == "" {
		opts.APIURL = utils.DropboxAPIBase
	}
	if opts.ContentURL == "" {
		opts.ContentURL = utils.DropboxContentBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = utils.DefaultRequestTimeoutSeconds * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay < time.Millisecond {
		opts.RetryDelay = time.Millisecond
	}

	root := normalizeRoot(opts.Root)
	p := &Provider{
		root:       root,
		rootLower:  strings.ToLower(root),
		apiURL:     strings.TrimSuffix(opts.APIURL, "/"),
		contentURL: strings.TrimSuffix(opts.ContentURL, "/"),
		logger:     logger,
	}

	client := req.C().
		SetTimeout(opts.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonRetryCount(opts.MaxRetries).
		SetCommonRetryBackoffInterval(opts.RetryDelay, time.Duration(utils.MaxRetryDelayMs)*time.Millisecond).
		SetCommonRetryCondition(shouldRetry).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			token, err := ts.Token()
			if err != nil {
				return err
			}
			r.SetBearerAuthToken(token.AccessToken)
			return nil
		})
	if opts.Debug != nil {
		client.GetTransport().WrapRoundTripFunc(func(rt http.RoundTripper) req.HttpRoundTripFunc {
			return opts.Debug.Wrap(rt).RoundTrip
		})
	}
	p.client = client
	return p
}

func (p *Provider) ID() string {
	return ID
}

type listFolderArg struct {
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	IncludeDeleted bool   `json:"include_deleted"`
}

type continueArg struct {
	Cursor string `json:"cursor"`
}

type metadata struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id"`
	Size           int64     `json:"size"`
	ServerModified time.Time `json:"server_modified"`
	ContentHash    string    `json:"content_hash"`
}

type listFolderResult struct {
	Entries []metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

type apiError struct {
	ErrorSummary string `json:"error_summary"`
}

// FetchChanges returns everything since cursor, following has_more until the
// feed is drained. Only the cursor of the last page is handed back. A cursor
// the server no longer accepts restarts the listing as a full rebuild.
func (p *Provider) FetchChanges(ctx context.Context, cursor types.SyncCursor) (*types.ChangeBatch, error) {
	logger := p.logger.WithContext(ctx)

	batch, err := p.drain(ctx, string(cursor))
	if stderrors.Is(err, errReset) {
		logger.Warn("Dropbox cursor was reset, relisting folder")
		batch, err = p.drain(ctx, "")
	}
	if stderrors.Is(err, errReset) {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError,
			"Dropbox reset the listing twice in one fetch").WithRetryable(true).Build())
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Fetched Dropbox changes",
		logging.F("entries", len(batch.Entries)),
		logging.F("reset", batch.ResetRequested),
	)
	return batch, nil
}

func (p *Provider) drain(ctx context.Context, cursor string) (*types.ChangeBatch, error) {
	batch := &types.ChangeBatch{ResetRequested: cursor == ""}

	var page listFolderResult
	var err error
	if cursor == "" {
		page, err = p.listFolder(ctx)
	} else {
		page, err = p.continueFrom(ctx, cursor)
	}
	for err == nil {
		batch.Entries = append(batch.Entries, p.toEntries(page.Entries)...)
		if !page.HasMore {
			batch.NextCursor = types.SyncCursor(page.Cursor)
			return batch, nil
		}
		page, err = p.continueFrom(ctx, page.Cursor)
	}
	return nil, err
}

var errReset = stderrors.New("dropbox cursor reset")

func (p *Provider) listFolder(ctx context.Context) (listFolderResult, error) {
	arg := listFolderArg{Path: p.root, Recursive: true}
	return p.list(ctx, endpointList, arg)
}

func (p *Provider) continueFrom(ctx context.Context, cursor string) (listFolderResult, error) {
	return p.list(ctx, endpointContinue, continueArg{Cursor: cursor})
}

func (p *Provider) list(ctx context.Context, endpoint string, body interface{}) (listFolderResult, error) {
	reqCtx := api.NewRequestContext(ctx, ID, "", types.RequestTypeChanges)
	var result listFolderResult

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetSuccessResult(&result).
		Post(p.apiURL + "/" + endpoint)
	if err != nil {
		return result, errors.ClassifyDropboxResponse(errors.DropboxFailure{Endpoint: endpoint, Cause: err}, reqCtx, p.logger)
	}
	if resp.IsErrorState() {
		summary := errorSummary(resp.Bytes())
		if endpoint == endpointContinue && errors.IsDropboxReset(resp.GetStatusCode(), summary) {
			return result, errReset
		}
		return result, errors.ClassifyDropboxResponse(errors.DropboxFailure{
			Endpoint: endpoint,
			Status:   resp.GetStatusCode(),
			Summary:  summary,
		}, reqCtx, p.logger)
	}
	return result, nil
}

// Open downloads a file through the content host
func (p *Provider) Open(ctx context.Context, entry types.ChangeEntry) (io.ReadCloser, error) {
	reqCtx := api.NewRequestContext(ctx, ID, "", types.RequestTypeDownload)
	target := entry.RemoteID
	if target == "" {
		target = joinRoot(p.root, entry.Path)
	}
	arg, err := headerJSON(map[string]string{"path": target})
	if err != nil {
		return nil, err
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Dropbox-API-Arg", arg).
		DisableAutoReadResponse().
		Post(p.contentURL + "/" + endpointDownload)
	if err != nil {
		return nil, errors.ClassifyDropboxResponse(errors.DropboxFailure{Endpoint: endpointDownload, Cause: err}, reqCtx, p.logger)
	}
	if resp.IsErrorState() {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		return nil, errors.ClassifyDropboxResponse(errors.DropboxFailure{
			Endpoint: endpointDownload,
			Status:   resp.GetStatusCode(),
			Summary:  errorSummary(data),
		}, reqCtx, p.logger)
	}
	return resp.Body, nil
}

// toEntries maps Dropbox metadata onto mirror entries relative to the root
func (p *Provider) toEntries(items []metadata) []types.ChangeEntry {
	entries := make([]types.ChangeEntry, 0, len(items))
	for _, m := range items {
		rel, folded, ok := p.relative(m)
		if !ok {
			continue
		}
		entry := types.ChangeEntry{Path: rel, RemoteID: m.ID, CaseFolded: folded}
		switch m.Tag {
		case "deleted":
			entry.Operation = types.OpDelete
			entry.RemoteID = ""
		case "folder":
			entry.Kind = types.KindDirectory
			entry.Operation = types.OpCreate
		case "file":
			entry.Kind = types.KindFile
			entry.Operation = types.OpUpdate
			entry.Size = m.Size
			entry.ModifiedTime = m.ServerModified
			entry.Hash = m.ContentHash
			if entry.RemoteID == "" {
				entry.RemoteID = m.PathLower
			}
		default:
			p.logger.Debug("Skipping Dropbox entry of unknown type",
				logging.F("tag", m.Tag),
				logging.F("path", m.PathDisplay),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// relative strips the root from an entry path. The root itself and entries
// outside it yield ok == false. folded reports that only path_lower was
// usable, so the local file may carry different casing.
func (p *Provider) relative(m metadata) (rel string, folded bool, ok bool) {
	lower := m.PathLower
	display := m.PathDisplay
	if display == "" || len(display) != len(lower) {
		display = lower
		folded = true
	}
	if p.rootLower != "" {
		if !strings.HasPrefix(lower, p.rootLower+"/") {
			return "", false, false
		}
		display = display[len(p.rootLower):]
	}
	rel = strings.TrimPrefix(display, "/")
	return rel, folded, rel != ""
}

func shouldRetry(resp *req.Response, err error) bool {
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if stderrors.As(err, &retrieveErr) || stderrors.Is(err, context.Canceled) {
			return false
		}
		return true
	}
	code := resp.GetStatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

func errorSummary(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.ErrorSummary
}

// headerJSON encodes v for the Dropbox-API-Arg header, which only carries ASCII
func headerJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(data) {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			hi, lo := surrogates(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String(), nil
}

func surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xD800 + (r>>10)&0x3FF, 0xDC00 + r&0x3FF
}

func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return ""
	}
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	return root
}

func joinRoot(root, rel string) string {
	return root + "/" + strings.TrimPrefix(rel, "/")
}
