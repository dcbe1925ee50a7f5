package gifts

// Details carries the category-specific content of a record. The set of
// implementations is closed: MugDetails, BraceletDetails, MemoriaDetails and
// NoorDetails.
type Details interface {
	Category() Category
	columns() map[string]any
	validate() error
}

// MugDetails is the content of an engraved mug.
type MugDetails struct {
	EngravingText string
	DesignImage   string
}

// BraceletDetails is the content of an engraved bracelet.
type BraceletDetails struct {
	EngravingText string
}

// MemoriaDetails is the content of a memorial card.
type MemoriaDetails struct {
	DeceasedName string
	LifeDates    string
}

// NoorDetails is the content of an audio recitation.
type NoorDetails struct {
	Title           string
	ArabicText      string
	AudioURL        string
	MeaningAudioURL string
	MeaningText     string
}

func (MugDetails) Category() Category      { return CategoryMug }
func (BraceletDetails) Category() Category { return CategoryBracelet }
func (MemoriaDetails) Category() Category  { return CategoryMemoria }
func (NoorDetails) Category() Category     { return CategoryNoor }

func (d MugDetails) columns() map[string]any {
	return map[string]any{
		"engraving_text": d.EngravingText,
		"design_image":   d.DesignImage,
	}
}

func (d BraceletDetails) columns() map[string]any {
	return map[string]any{
		"engraving_text": d.EngravingText,
	}
}

func (d MemoriaDetails) columns() map[string]any {
	return map[string]any{
		"deceased_name": d.DeceasedName,
		"life_dates":    d.LifeDates,
	}
}

func (d NoorDetails) columns() map[string]any {
	return map[string]any{
		"title":             d.Title,
		"arabic_text":       d.ArabicText,
		"audio_url":         d.AudioURL,
		"meaning_audio_url": d.MeaningAudioURL,
		"meaning_text":      d.MeaningText,
	}
}

func (d MugDetails) validate() error {
	if err := checkLength("engraving_text", d.EngravingText, maxEngravingLength); err != nil {
		return err
	}
	return checkOptionalURL("design_image", d.DesignImage)
}

func (d BraceletDetails) validate() error {
	return checkLength("engraving_text", d.EngravingText, maxEngravingLength)
}

func (d MemoriaDetails) validate() error {
	if err := checkLength("deceased_name", d.DeceasedName, maxNameLength); err != nil {
		return err
	}
	return checkLength("life_dates", d.LifeDates, maxLifeDatesLength)
}

func (d NoorDetails) validate() error {
	if err := checkLength("title", d.Title, maxTitleLength); err != nil {
		return err
	}
	if err := checkLength("arabic_text", d.ArabicText, maxTextLength); err != nil {
		return err
	}
	if err := checkLength("meaning_text", d.MeaningText, maxTextLength); err != nil {
		return err
	}
	if err := checkOptionalURL("audio_url", d.AudioURL); err != nil {
		return err
	}
	return checkOptionalURL("meaning_audio_url", d.MeaningAudioURL)
}

// Details projects the record columns onto its category variant.
func (r Record) Details() Details {
	switch r.Category() {
	case CategoryBracelet:
		return BraceletDetails{EngravingText: r.EngravingText}
	case CategoryMemoria:
		return MemoriaDetails{DeceasedName: r.DeceasedName, LifeDates: r.LifeDates}
	case CategoryNoor:
		return NoorDetails{
			Title:           r.Title,
			ArabicText:      r.ArabicText,
			AudioURL:        r.AudioURL,
			MeaningAudioURL: r.MeaningAudioURL,
			MeaningText:     r.MeaningText,
		}
	default:
		return MugDetails{EngravingText: r.EngravingText, DesignImage: r.DesignImage}
	}
}

func applyDetails(record *Record, details Details) {
	for column, value := range details.columns() {
		setDetailColumn(record, column, value.(string))
	}
}

func setDetailColumn(record *Record, column, value string) {
	switch column {
	case "engraving_text":
		record.EngravingText = value
	case "design_image":
		record.DesignImage = value
	case "deceased_name":
		record.DeceasedName = value
	case "life_dates":
		record.LifeDates = value
	case "title":
		record.Title = value
	case "arabic_text":
		record.ArabicText = value
	case "audio_url":
		record.AudioURL = value
	case "meaning_audio_url":
		record.MeaningAudioURL = value
	case "meaning_text":
		record.MeaningText = value
	}
}
