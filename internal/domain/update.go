package domain

import "time"

// RemoteManifest is the published version document. Gateway versions the
// gateway binary itself.
type RemoteManifest struct {
	Gateway *RemoteArtifact           `json:"gateway,omitempty"`
	Addons  map[string]RemoteArtifact `json:"addons,omitempty"`
}

// RemoteArtifact is one entry of the remote manifest. Blake3 maps a
// "<goos>-<goarch>" platform key to the hex digest of that platform's build.
type RemoteArtifact struct {
	Version string            `json:"version"`
	ID      string            `json:"id,omitempty"`
	Blake3  map[string]string `json:"blake3,omitempty"`
}

// ArtifactStatus compares one local artifact with its remote version.
type ArtifactStatus struct {
	Current         string `json:"current"`
	Latest          string `json:"latest"`
	ID              string `json:"id,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// UpdateStatus is the result of an update check.
type UpdateStatus struct {
	Proxy      *ArtifactStatus           `json:"proxy"`
	Addons     map[string]ArtifactStatus `json:"addons"`
	HasUpdates bool                      `json:"hasUpdates"`
	Error      string                    `json:"error,omitempty"`
	CheckedAt  time.Time                 `json:"checkedAt"`
}

// UpdateFileResult reports what happened to one artifact during an update.
type UpdateFileResult struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	Digest string `json:"digest,omitempty"`
}

const (
	UpdateFileUpdated = "updated"
	UpdateFileSkipped = "skipped"
	UpdateFileFailed  = "failed"
)

// UpdateOutcome is the response to an update request.
type UpdateOutcome struct {
	Success         bool               `json:"success"`
	Results         []UpdateFileResult `json:"results"`
	RestartRequired bool               `json:"restartScheduled"`
}

// CleanupRequest asks the gateway to remove its own deployment.
type CleanupRequest struct {
	Target  string `json:"target"`
	Confirm string `json:"confirm"`
	DryRun  bool   `json:"dryRun"`
}

// CleanupResult describes a planned or scheduled removal.
type CleanupResult struct {
	Success  bool   `json:"success"`
	DryRun   bool   `json:"dryRun"`
	Target   string `json:"target"`
	ProxyDir string `json:"proxyDir"`
	Strategy string `json:"strategy"`
	Note     string `json:"note,omitempty"`
}
