package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/job"
)

// DataSource loads projects from GET /projects/{id}?user_id={userID}.
type DataSource struct {
	client
}

var _ export.DataSource = (*DataSource)(nil)

// NewDataSource creates a DataSource against baseURL.
func NewDataSource(baseURL string, opts ...Option) *DataSource {
	return &DataSource{client: newClient(baseURL, opts)}
}

// LoadProjectWithWorkflow fetches a project and its workflow. A 404, or a
// project owned by someone else, is spool.ErrProjectNotFound.
func (d *DataSource) LoadProjectWithWorkflow(ctx context.Context, projectID, userID string) (*export.ProjectData, error) {
	path := "/projects/" + url.PathEscape(projectID) + "?user_id=" + url.QueryEscape(userID)
	data, err := d.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Code == http.StatusNotFound {
			return nil, job.Permanent(fmt.Errorf("%w: %s", spool.ErrProjectNotFound, projectID))
		}
		return nil, err
	}

	var p export.ProjectData
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("remote: decode project: %w", err)
	}
	if p.UserID != "" && p.UserID != userID {
		return nil, job.Permanent(fmt.Errorf("%w: %s", spool.ErrProjectNotFound, projectID))
	}
	return &p, nil
}
