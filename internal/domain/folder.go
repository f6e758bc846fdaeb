package domain

import "time"

const RootFolderName = "root"

// FolderCanvas is the entry a folder keeps for each canvas filed in it.
type FolderCanvas struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CanvasTypeID string `json:"canvas_type_id"`
}

// Folder is a filing location. It is independent of the canvas hierarchy.
type Folder struct {
	ID        string                  `json:"id"`
	UserID    uint64                  `json:"user_id"`
	Name      string                  `json:"name"`
	ParentID  *string                 `json:"parent_id"`
	Canvases  map[string]FolderCanvas `json:"canvases"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func (f *Folder) IsRoot() bool {
	return f.ParentID == nil && f.Name == RootFolderName
}
