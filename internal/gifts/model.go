package gifts

import (
	"crypto/subtle"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Category is the closed set of product experiences a record can belong to.
type Category string

const (
	// CategoryMug is the default engraved mug ("tasse") experience.
	CategoryMug      Category = "tasse"
	CategoryBracelet Category = "bracelet"
	CategoryMemoria  Category = "memoria"
	CategoryNoor     Category = "noor"
)

// ProductTypeBracelet is the productType value that selects the bracelet experience.
const ProductTypeBracelet = "bracelet"

// ResolveCategory maps the raw category fields onto a Category. A known
// project wins, then a bracelet product type, then the mug default.
func ResolveCategory(project, productType string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(project))) {
	case CategoryNoor:
		return CategoryNoor
	case CategoryMemoria:
		return CategoryMemoria
	case CategoryMug:
		return CategoryMug
	}
	if strings.EqualFold(strings.TrimSpace(productType), ProductTypeBracelet) {
		return CategoryBracelet
	}
	return CategoryMug
}

// MessageType enumerates album message kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
)

// Message is one entry of a gift's ordered message album.
type Message struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Author  string      `json:"author"`
	Content string      `json:"content"`
}

// Status values written by the lifecycle.
const (
	StatusPending   = "pending"
	StatusInSetup   = "in_setup"
	StatusCompleted = "completed"
	StatusReady     = "ready"
)

// Record is the persisted gift record. Its JSON form is the recipient-facing
// view and carries neither capability tokens, the PIN nor customer contact data.
type Record struct {
	ID                 string                       `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Project            string                       `gorm:"column:project;size:32;not null;default:''" json:"project"`
	ProductType        string                       `gorm:"column:product_type;size:32;not null;default:''" json:"productType"`
	RecipientName      string                       `gorm:"column:recipient_name;size:200" json:"recipientName"`
	SenderName         string                       `gorm:"column:sender_name;size:200" json:"senderName"`
	CustomerName       string                       `gorm:"column:customer_name;size:200" json:"-"`
	CustomerEmail      string                       `gorm:"column:customer_email;size:320" json:"-"`
	OrderID            string                       `gorm:"column:order_id;size:190;uniqueIndex:idx_gift_records_order,priority:2,where:order_id <> ''" json:"orderId"`
	Platform           string                       `gorm:"column:platform;size:64;uniqueIndex:idx_gift_records_order,priority:1,where:order_id <> ''" json:"platform"`
	Status             string                       `gorm:"column:status;size:32;not null;default:'pending'" json:"status"`
	Messages           datatypes.JSONSlice[Message] `gorm:"column:messages" json:"messages"`
	AlbumImages        datatypes.JSONSlice[string]  `gorm:"column:album_images" json:"albumImages"`
	EngravingText      string                       `gorm:"column:engraving_text;size:500" json:"engravingText"`
	DesignImage        string                       `gorm:"column:design_image;size:2048" json:"designImage"`
	Title              string                       `gorm:"column:title;size:300" json:"title"`
	ArabicText         string                       `gorm:"column:arabic_text;type:text" json:"arabicText"`
	AudioURL           string                       `gorm:"column:audio_url;size:2048" json:"audioUrl"`
	MeaningAudioURL    string                       `gorm:"column:meaning_audio_url;size:2048" json:"meaningAudioUrl"`
	MeaningText        string                       `gorm:"column:meaning_text;type:text" json:"meaningText"`
	DeceasedName       string                       `gorm:"column:deceased_name;size:200" json:"deceasedName"`
	LifeDates          string                       `gorm:"column:life_dates;size:100" json:"lifeDates"`
	AccessCode         string                       `gorm:"column:access_code;size:16" json:"-"`
	AccessCodeHash     string                       `gorm:"column:access_code_hash;size:256" json:"-"`
	IsPublic           bool                         `gorm:"column:is_public;not null;default:false" json:"isPublic"`
	SecurityToken      string                       `gorm:"column:security_token;size:128;not null" json:"-"`
	ContributionToken  string                       `gorm:"column:contribution_token;size:128;index" json:"-"`
	AllowContributions bool                         `gorm:"column:allow_contributions;not null;default:false" json:"allowContributions"`
	Locked             bool                         `gorm:"column:locked;not null;default:false" json:"locked"`
	SetupStarted       bool                         `gorm:"column:setup_started;not null;default:false" json:"setupStarted"`
	Viewed             bool                         `gorm:"column:viewed;not null;default:false" json:"viewed"`
	ViewedAt           *time.Time                   `gorm:"column:viewed_at" json:"viewedAt,omitempty"`
	SetupCompletedAt   *time.Time                   `gorm:"column:setup_completed_at" json:"setupCompletedAt,omitempty"`
	CreatedAt          time.Time                    `gorm:"column:created_at;not null;index" json:"createdAt"`
	UpdatedAt          time.Time                    `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "gift_records"
}

// Category resolves the record's experience category.
func (r Record) Category() Category {
	return ResolveCategory(r.Project, r.ProductType)
}

// HasPin reports whether a PIN hash gates the record.
func (r Record) HasPin() bool {
	return r.AccessCodeHash != ""
}

// HeldBy reports whether token is the record's security token.
func (r Record) HeldBy(token string) bool {
	return tokensEqual(r.SecurityToken, token)
}

// State derives the lifecycle state from the record flags.
func (r Record) State() State {
	switch {
	case r.Locked:
		return StateLocked
	case r.SetupStarted:
		return StateSetupStarted
	default:
		return StateOpen
	}
}

// AssetReferences lists every binary asset the record points at.
func (r Record) AssetReferences() []string {
	refs := make([]string, 0, len(r.AlbumImages)+3)
	refs = append(refs, r.AlbumImages...)
	for _, ref := range []string{r.AudioURL, r.MeaningAudioURL, r.DesignImage} {
		if strings.TrimSpace(ref) != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Projection returns the safe field subset exposed when full access is denied.
func (r Record) Projection() PublicProjection {
	return PublicProjection{
		ID:            r.ID,
		RecipientName: r.RecipientName,
		Locked:        r.Locked,
		HasPin:        r.HasPin(),
		Project:       r.Project,
		ProductType:   r.ProductType,
	}
}

// PublicProjection is the safe subset of a record. It never carries content.
type PublicProjection struct {
	ID            string `json:"id"`
	RecipientName string `json:"recipientName"`
	Locked        bool   `json:"locked"`
	HasPin        bool   `json:"hasPin"`
	Project       string `json:"project,omitempty"`
	ProductType   string `json:"productType,omitempty"`
}

// Contribution is a third-party message appended through a contribution token.
type Contribution struct {
	ID                string    `gorm:"column:id;primaryKey;size:64;not null"`
	GiftID            string    `gorm:"column:gift_id;size:64;not null;index:idx_contributions_gift_created,priority:1"`
	Author            string    `gorm:"column:author;size:200;not null"`
	Content           string    `gorm:"column:content;type:text;not null"`
	ContributionToken string    `gorm:"column:contribution_token;size:128;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;index:idx_contributions_gift_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Contribution) TableName() string {
	return "gift_contributions"
}

// State is a lifecycle stage.
type State string

const (
	StateOpen         State = "open"
	StateSetupStarted State = "setup_started"
	StateLocked       State = "locked"
)

// Credentials carry the capability presented by a caller.
type Credentials struct {
	SecurityToken string
}

func tokensEqual(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
