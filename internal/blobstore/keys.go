package blobstore

import (
	"fmt"

	"github.com/google/uuid"
)

// NewAdapterKey builds the blob-store key for a newly created upload. The
// shape is fixed by the data model: {projectId}/{environmentId}/{uuid}. It is
// not configurable per deployment because the gateway's ownership and cleanup
// invariants are written in terms of this exact layout.
func NewAdapterKey(projectID, environmentID string) string {
	return fmt.Sprintf("%s/%s/%s", projectID, environmentID, uuid.NewString())
}
