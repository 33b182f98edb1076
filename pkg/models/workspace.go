package models

import "time"

// Workspace is a filesystem directory that bounds a task's file tools and
// stores its outputs.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}
