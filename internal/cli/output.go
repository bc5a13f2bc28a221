package cli

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dl-alexandre/cloudmirror/internal/auth"
	"github.com/dl-alexandre/cloudmirror/internal/config"
	"github.com/dl-alexandre/cloudmirror/internal/history"
	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/dl-alexandre/cloudmirror/internal/utils"
	"github.com/dustin/go-humanize"
)

// toCLIError extracts the structured error carried by err
func toCLIError(err error) types.CLIError {
	var appErr *utils.AppError
	if stderrors.As(err, &appErr) {
		cliErr := appErr.CLIError
		if cause := stderrors.Unwrap(appErr); cause != nil {
			ctx := make(map[string]interface{}, len(cliErr.Context)+1)
			for k, v := range cliErr.Context {
				ctx[k] = v
			}
			ctx["cause"] = cause.Error()
			cliErr.Context = ctx
		}
		return cliErr
	}
	return utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build()
}

// statusView is what 'status' prints
type statusView struct {
	Provider    string         `json:"provider"`
	LocalRoot   string         `json:"localRoot"`
	StateDir    string         `json:"stateDir"`
	CursorFile  string         `json:"cursorFile,omitempty"`
	CursorBytes int64          `json:"cursorBytes"`
	Ticks       []history.Tick `json:"ticks"`
}

func (v statusView) Headers() []string {
	return []string{"Started", "Outcome", "Reset", "Applied", "Failed", "Skipped", "Size", "Duration", "Error"}
}

func (v statusView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Ticks))
	for _, t := range v.Ticks {
		rows = append(rows, []string{
			humanize.Time(t.Started),
			t.Outcome,
			strconv.FormatBool(t.Reset),
			strconv.Itoa(t.Applied),
			strconv.Itoa(t.Failed),
			strconv.Itoa(t.Skipped),
			humanize.Bytes(uint64(t.Bytes)),
			t.Duration.Round(time.Millisecond).String(),
			config.TruncateString(t.Error, 40),
		})
	}
	return rows
}

func (v statusView) EmptyMessage() string {
	return fmt.Sprintf("No sync ticks recorded for %s", v.Provider)
}

// credentialView is one row of 'auth status'
type credentialView struct {
	Profile       string `json:"profile"`
	Authenticated bool   `json:"authenticated"`
	Type          string `json:"type,omitempty"`
	Expiry        string `json:"expiry,omitempty"`
	Expired       bool   `json:"expired"`
	CanRefresh    bool   `json:"canRefresh"`
}

type credentialList struct {
	Storage  auth.StorageInfo `json:"storage"`
	Profiles []credentialView `json:"profiles"`
}

func (l credentialList) Headers() []string {
	return []string{"Profile", "Authenticated", "Type", "Expiry", "Refreshable"}
}

func (l credentialList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Profiles))
	for _, p := range l.Profiles {
		expiry := p.Expiry
		if expiry == "" {
			expiry = "-"
		} else if p.Expired {
			expiry += " (expired)"
		}
		typ := p.Type
		if typ == "" {
			typ = "-"
		}
		rows = append(rows, []string{p.Profile, strconv.FormatBool(p.Authenticated), typ, expiry, strconv.FormatBool(p.CanRefresh)})
	}
	return rows
}

func (l credentialList) EmptyMessage() string {
	return "No credential profiles"
}
