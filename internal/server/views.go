package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/experience"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
)

type detailsPayload struct {
	EngravingText   string `json:"engravingText"`
	DesignImage     string `json:"designImage"`
	DeceasedName    string `json:"deceasedName"`
	LifeDates       string `json:"lifeDates"`
	Title           string `json:"title"`
	ArabicText      string `json:"arabicText"`
	AudioURL        string `json:"audioUrl"`
	MeaningAudioURL string `json:"meaningAudioUrl"`
	MeaningText     string `json:"meaningText"`
}

// forCategory picks the variant of the category and rejects fields that
// belong to another one.
func (p *detailsPayload) forCategory(category gifts.Category) (gifts.Details, error) {
	if p == nil {
		return nil, nil
	}
	var (
		details gifts.Details
		foreign []string
	)
	switch category {
	case gifts.CategoryBracelet:
		details = gifts.BraceletDetails{EngravingText: p.EngravingText}
		foreign = []string{p.DesignImage, p.DeceasedName, p.LifeDates, p.Title, p.ArabicText, p.AudioURL, p.MeaningAudioURL, p.MeaningText}
	case gifts.CategoryMemoria:
		details = gifts.MemoriaDetails{DeceasedName: p.DeceasedName, LifeDates: p.LifeDates}
		foreign = []string{p.EngravingText, p.DesignImage, p.Title, p.ArabicText, p.AudioURL, p.MeaningAudioURL, p.MeaningText}
	case gifts.CategoryNoor:
		details = gifts.NoorDetails{
			Title:           p.Title,
			ArabicText:      p.ArabicText,
			AudioURL:        p.AudioURL,
			MeaningAudioURL: p.MeaningAudioURL,
			MeaningText:     p.MeaningText,
		}
		foreign = []string{p.EngravingText, p.DesignImage, p.DeceasedName, p.LifeDates}
	default:
		details = gifts.MugDetails{EngravingText: p.EngravingText, DesignImage: p.DesignImage}
		foreign = []string{p.DeceasedName, p.LifeDates, p.Title, p.ArabicText, p.AudioURL, p.MeaningAudioURL, p.MeaningText}
	}
	for _, value := range foreign {
		if strings.TrimSpace(value) != "" {
			return nil, fmt.Errorf("%w: details carry fields outside category %s", gifts.ErrValidation, category)
		}
	}
	return details, nil
}

type createGiftPayload struct {
	Project            string          `json:"project"`
	ProductType        string          `json:"productType"`
	RecipientName      string          `json:"recipientName"`
	SenderName         string          `json:"senderName"`
	CustomerName       string          `json:"customerName"`
	CustomerEmail      string          `json:"customerEmail"`
	OrderID            string          `json:"orderId"`
	Platform           string          `json:"platform"`
	Messages           []gifts.Message `json:"messages"`
	Details            *detailsPayload `json:"details"`
	Pin                string          `json:"pin"`
	Lock               bool            `json:"lock"`
	AllowContributions bool            `json:"allowContributions"`
	IsPublic           bool            `json:"isPublic"`
}

func (p createGiftPayload) toRequest() (gifts.CreateRequest, error) {
	details, err := p.Details.forCategory(gifts.ResolveCategory(p.Project, p.ProductType))
	if err != nil {
		return gifts.CreateRequest{}, err
	}
	return gifts.CreateRequest{
		Project:            p.Project,
		ProductType:        p.ProductType,
		RecipientName:      p.RecipientName,
		SenderName:         p.SenderName,
		CustomerName:       p.CustomerName,
		CustomerEmail:      p.CustomerEmail,
		OrderID:            p.OrderID,
		Platform:           p.Platform,
		Details:            details,
		Messages:           p.Messages,
		Pin:                p.Pin,
		Lock:               p.Lock,
		AllowContributions: p.AllowContributions,
		IsPublic:           p.IsPublic,
	}, nil
}

type updateGiftPayload struct {
	Project            *string          `json:"project"`
	ProductType        *string          `json:"productType"`
	RecipientName      *string          `json:"recipientName"`
	SenderName         *string          `json:"senderName"`
	CustomerName       *string          `json:"customerName"`
	CustomerEmail      *string          `json:"customerEmail"`
	Status             *string          `json:"status"`
	Messages           *[]gifts.Message `json:"messages"`
	Details            *detailsPayload  `json:"details"`
	AllowContributions *bool            `json:"allowContributions"`
	IsPublic           *bool            `json:"isPublic"`
	Locked             *bool            `json:"locked"`
	Pin                *string          `json:"pin"`
}

// toPatch resolves details against the category the record will have after the edit.
func (p updateGiftPayload) toPatch(current gifts.Record) (gifts.RecordPatch, error) {
	project, productType := current.Project, current.ProductType
	if p.Project != nil {
		project = *p.Project
	}
	if p.ProductType != nil {
		productType = *p.ProductType
	}
	details, err := p.Details.forCategory(gifts.ResolveCategory(project, productType))
	if err != nil {
		return gifts.RecordPatch{}, err
	}
	return gifts.RecordPatch{
		Project:            p.Project,
		ProductType:        p.ProductType,
		RecipientName:      p.RecipientName,
		SenderName:         p.SenderName,
		CustomerName:       p.CustomerName,
		CustomerEmail:      p.CustomerEmail,
		Status:             p.Status,
		Messages:           p.Messages,
		Details:            details,
		AllowContributions: p.AllowContributions,
		IsPublic:           p.IsPublic,
		Locked:             p.Locked,
		Pin:                p.Pin,
	}, nil
}

type setupContentPayload struct {
	RecipientName *string          `json:"recipientName"`
	SenderName    *string          `json:"senderName"`
	Messages      *[]gifts.Message `json:"messages"`
	Details       *detailsPayload  `json:"details"`
}

type sealPayload struct {
	Pin string `json:"pin"`
}

type pinPayload struct {
	Pin string `json:"pin"`
}

type contributionPayload struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// giftView is the holder and recipient view of a record.
type giftView struct {
	gifts.Record
	Category      gifts.Category      `json:"category"`
	CategoryLabel string              `json:"categoryLabel"`
	HasPin        bool                `json:"hasPin"`
	SetupRequired bool                `json:"setupRequired"`
	ViewerURL     string              `json:"viewerUrl"`
	Summary       []experience.Detail `json:"summary"`
}

// adminGiftView adds the capability links, PIN display copy and contact fields.
type adminGiftView struct {
	giftView
	CustomerName     string `json:"customerName"`
	CustomerEmail    string `json:"customerEmail"`
	AccessCode       string `json:"accessCode"`
	SetupLink        string `json:"setupLink"`
	ContributionLink string `json:"contributionLink"`
}

type contributionView struct {
	ID        string    `json:"id"`
	GiftID    string    `json:"giftId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *httpHandler) giftView(record gifts.Record) giftView {
	descriptor := h.registry.Resolve(&record)
	return giftView{
		Record:        record,
		Category:      descriptor.ID,
		CategoryLabel: descriptor.Label,
		HasPin:        record.HasPin(),
		SetupRequired: descriptor.SetupRequired,
		ViewerURL:     descriptor.ViewerURL(record),
		Summary:       descriptor.RenderDetails(record),
	}
}

func (h *httpHandler) adminGiftView(record gifts.Record) adminGiftView {
	return adminGiftView{
		giftView:         h.giftView(record),
		CustomerName:     record.CustomerName,
		CustomerEmail:    record.CustomerEmail,
		AccessCode:       record.AccessCode,
		SetupLink:        gifts.SetupPath(record),
		ContributionLink: gifts.ContributionPath(record),
	}
}

func newContributionView(contribution gifts.Contribution) contributionView {
	return contributionView{
		ID:        contribution.ID,
		GiftID:    contribution.GiftID,
		Author:    contribution.Author,
		Content:   contribution.Content,
		CreatedAt: contribution.CreatedAt,
	}
}
