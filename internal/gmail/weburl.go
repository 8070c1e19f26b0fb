package gmail

import (
	"fmt"
	"strings"

	"github.com/mailzero/mailzero/internal/mail"
)

var webFragment = map[mail.Folder]string{
	mail.FolderInbox:   "inbox",
	mail.FolderSpam:    "spam",
	mail.FolderArchive: "all",
	mail.FolderTrash:   "trash",
	mail.FolderDraft:   "drafts",
	mail.FolderSent:    "sent",
}

// ValidateID rejects ids that cannot be a Gmail thread or message id
func ValidateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return fmt.Errorf("id contains invalid characters: %s", id)
		}
	}
	return nil
}

// WebURL links a thread in the Gmail web client of the primary account
func WebURL(folder mail.Folder, threadID string) (string, error) {
	if err := ValidateID(threadID); err != nil {
		return "", err
	}
	fragment, ok := webFragment[folder]
	if !ok {
		fragment = "all"
	}
	return fmt.Sprintf("https://mail.google.com/mail/u/0/#%s/%s", fragment, strings.TrimSpace(threadID)), nil
}
