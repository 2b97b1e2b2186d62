package graph

import "time"

// RootItemID is the path alias the document API accepts for a drive's container root.
const RootItemID = "root"

// Site is the root site that hosts case libraries.
type Site struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// Case is a document library backing one legal matter. DriveID is always set
// on cases returned by ListCases.
type Case struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Description     string    `json:"description"`
	CreatedDateTime time.Time `json:"createdDateTime"`
	DriveID         string    `json:"driveId"`
}

// Item is a normalized file or folder. Callers never see raw API payloads.
type Item struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	Size                 int64     `json:"size"`
	ParentID             string    `json:"parentId,omitempty"`
	IsFolder             bool      `json:"isFolder"`
	ChildCount           int       `json:"childCount,omitempty"`
	CreatedByDisplayName string    `json:"createdByDisplayName,omitempty"`
	MimeType             string    `json:"mimeType,omitempty"`
	WebURL               string    `json:"webUrl,omitempty"`
}

// Identity is a principal referenced by a permission.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// Permission is a sharing entry as returned by the API, before grantee filtering.
type Permission struct {
	ID          string    `json:"id"`
	Roles       []string  `json:"roles"`
	User        *Identity `json:"user,omitempty"`
	Application *Identity `json:"application,omitempty"`
	Group       *Identity `json:"group,omitempty"`
}

// Role values accepted by Invite.
const (
	RoleRead  = "read"
	RoleWrite = "write"
)

// wire types

type listPayload struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Description     string    `json:"description"`
	CreatedDateTime time.Time `json:"createdDateTime"`
	List            *struct {
		Template string `json:"template"`
	} `json:"list,omitempty"`
}

func (l listPayload) isDocumentLibrary() bool {
	return l.List != nil && l.List.Template == "documentLibrary"
}

type drivePayload struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
}

type identitySet struct {
	User        *Identity `json:"user,omitempty"`
	Application *Identity `json:"application,omitempty"`
	Group       *Identity `json:"group,omitempty"`
}

type driveItemPayload struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	Size                 int64     `json:"size"`
	WebURL               string    `json:"webUrl"`
	ParentReference      *struct {
		DriveID string `json:"driveId"`
		ID      string `json:"id"`
	} `json:"parentReference,omitempty"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	CreatedBy *identitySet `json:"createdBy,omitempty"`
}

func (p driveItemPayload) normalize() Item {
	it := Item{
		ID:                   p.ID,
		Name:                 p.Name,
		CreatedDateTime:      p.CreatedDateTime,
		LastModifiedDateTime: p.LastModifiedDateTime,
		Size:                 p.Size,
		WebURL:               p.WebURL,
		IsFolder:             p.Folder != nil,
	}
	if p.ParentReference != nil {
		it.ParentID = p.ParentReference.ID
	}
	if p.Folder != nil {
		it.ChildCount = p.Folder.ChildCount
	}
	if p.File != nil {
		it.MimeType = p.File.MimeType
	}
	if p.CreatedBy != nil && p.CreatedBy.User != nil {
		it.CreatedByDisplayName = p.CreatedBy.User.DisplayName
	}
	return it
}

type permissionPayload struct {
	ID          string       `json:"id"`
	Roles       []string     `json:"roles"`
	GrantedToV2 *identitySet `json:"grantedToV2,omitempty"`
	GrantedTo   *identitySet `json:"grantedTo,omitempty"`
}

func (p permissionPayload) normalize() Permission {
	perm := Permission{ID: p.ID, Roles: p.Roles}
	grantee := p.GrantedToV2
	if grantee == nil {
		grantee = p.GrantedTo
	}
	if grantee != nil {
		perm.User = grantee.User
		perm.Application = grantee.Application
		perm.Group = grantee.Group
	}
	return perm
}

type collection[T any] struct {
	Value []T `json:"value"`
}
