package mail

import (
	"fmt"
	"strings"
)

// AllFolders lists the folders a client can browse, in display order
var AllFolders = []Folder{FolderInbox, FolderArchive, FolderSpam, FolderTrash, FolderDraft, FolderSent}

// ParseFolder accepts a folder name in any case
func ParseFolder(s string) (Folder, error) {
	f := Folder(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllFolders {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown folder %q", s)
}

// AvailableDestinations returns the moves offered for threads shown in folder.
// Folders without bulk moves return nil.
func AvailableDestinations(folder Folder) []Destination {
	switch folder {
	case FolderInbox:
		return []Destination{DestinationArchive, DestinationSpam}
	case FolderArchive:
		return []Destination{DestinationInbox}
	case FolderSpam:
		return []Destination{DestinationInbox}
	}
	return nil
}

// ParseDestination accepts a move target name in any case
func ParseDestination(s string) (Destination, error) {
	d := Destination(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown destination %q", s)
	}
	return d, nil
}
