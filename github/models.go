package github

// Content types reported by the contents endpoint.
const (
	TypeFile    = "file"
	TypeDir     = "dir"
	TypeSymlink = "symlink"
	TypeSubmod  = "submodule"
)

// Content is one entry of a directory listing or a single file's metadata.
type Content struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

func (c Content) IsDir() bool { return c.Type == TypeDir }

type repoResponse struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// namedCommit is the shape of both branch and tag list items.
type namedCommit struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type rateResource struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

type rateLimitResponse struct {
	Resources map[string]rateResource `json:"resources"`
}

type user struct {
	Login string `json:"login"`
}
