package resources

import (
	"time"

	"github.com/shopspring/decimal"
)

// Audit carries the columns every back-office model shares.
type Audit struct {
	ID         int        `json:"id"`
	UUID       string     `json:"uuid,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

type EventCategory struct {
	Audit
	Title string `json:"title"`
}

type EventSubCategory struct {
	Audit
	Title              string `json:"title"`
	EventCategory      *int   `json:"event_category"`
	EventCategoryTitle string `json:"event_category_title,omitempty"`
}

type Event struct {
	Audit
	Title            string     `json:"title"`
	ShortDescription string     `json:"short_description,omitempty"`
	Description      string     `json:"description,omitempty"`
	EventCategory    *int       `json:"event_category"`
	EventSubCategory *int       `json:"event_sub_category"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	Location         string     `json:"location,omitempty"`
	IsPublished      bool       `json:"is_published"`
	CoverImage       string     `json:"cover_image,omitempty"`
}

// EventMedia is an uploaded file or embed attached to an event.
type EventMedia struct {
	Audit
	Title           string `json:"title"`
	Event           *int   `json:"event"`
	MediaInfo       string `json:"media_info,omitempty"`
	Location        string `json:"location,omitempty"`
	FileType        string `json:"file_type,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	File            string `json:"file,omitempty"`
	EmbedCode       string `json:"embed_code,omitempty"`
	DownloadedCount int    `json:"downloaded_count"`
}

type EventMediaInfo struct {
	Audit
	Title       string `json:"title"`
	Event       *int   `json:"event"`
	Description string `json:"description,omitempty"`
}

type PostCategory struct {
	Audit
	Title       string `json:"title"`
	TitleOthers string `json:"title_others,omitempty"`
	IsMenu      bool   `json:"is_menu"`
}

type Post struct {
	Audit
	Title            string     `json:"title"`
	TitleOthers      string     `json:"title_others,omitempty"`
	ShortDescription string     `json:"short_description,omitempty"`
	Description      string     `json:"description,omitempty"`
	IsPublished      bool       `json:"is_published"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	PostCategory     *int       `json:"post_category"`
	Parent           *int       `json:"parent"`
	Media            string     `json:"media,omitempty"`
	CoverImage       string     `json:"cover_image,omitempty"`
	SetBanner        bool       `json:"set_banner"`
	BannerOrder      int        `json:"banner_order"`
}

type DonationCategory struct {
	Audit
	Title                 string `json:"title"`
	IsDateRequired        bool   `json:"is_date_required"`
	IsMultiSelectRequired bool   `json:"is_multi_select_required"`
}

type DonationSubCategory struct {
	Audit
	Title            string           `json:"title"`
	DonationCategory *int             `json:"donation_category"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
}

type AssociationPost struct {
	Audit
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IsPublished bool   `json:"is_published"`
}

// User is an account as listed by the user administration endpoints.
type User struct {
	ID              int        `json:"id"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	IsActive        bool       `json:"is_active"`
	IsStaff         bool       `json:"is_staff"`
	IsSuperuser     bool       `json:"is_superuser"`
	IsEmailVerified bool       `json:"is_email_verified"`
	Group           *int       `json:"group"`
	GroupName       string     `json:"group_name,omitempty"`
	DateJoined      *time.Time `json:"date_joined,omitempty"`
}

// Role is a permission group.
type Role struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions,omitempty"`
	UserCount   int          `json:"user_count,omitempty"`
}

type Permission struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Codename string `json:"codename"`
	App      string `json:"app_label,omitempty"`
}

type MembershipType struct {
	ID          int             `json:"id,omitempty"`
	UUID        string          `json:"uuid"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// LookupItem is an education level or institution.
type LookupItem struct {
	ID          int    `json:"id,omitempty"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ProfileInfo struct {
	FullName       string `json:"full_name"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	Gender         string `json:"gender,omitempty"`
	CountryOfBirth string `json:"country_of_birth,omitempty"`
	CityOfBirth    string `json:"city_of_birth,omitempty"`
	Citizenship    string `json:"citizenship,omitempty"`
}

// ContactInfo holds the plain values on input; reads return the masked
// variants alongside.
type ContactInfo struct {
	NRICFin                string `json:"nric_fin,omitempty"`
	NRICFinMasked          string `json:"nric_fin_masked,omitempty"`
	PrimaryContact         string `json:"primary_contact,omitempty"`
	PrimaryContactMasked   string `json:"primary_contact_masked,omitempty"`
	SecondaryContact       string `json:"secondary_contact,omitempty"`
	SecondaryContactMasked string `json:"secondary_contact_masked,omitempty"`
	ResidentialStatus      string `json:"residential_status,omitempty"`
	PostalCode             string `json:"postal_code,omitempty"`
	Address                string `json:"address,omitempty"`
}

type EducationInfo struct {
	Education       *int   `json:"education"`
	EducationName   string `json:"education_name,omitempty"`
	Institution     *int   `json:"institution"`
	InstitutionName string `json:"institution_name,omitempty"`
	OtherSocieties  string `json:"other_societies,omitempty"`
}

type WorkInfo struct {
	Occupation        string `json:"occupation,omitempty"`
	CompanyName       string `json:"company_name,omitempty"`
	CompanyAddress    string `json:"company_address,omitempty"`
	CompanyPostalCode string `json:"company_postal_code,omitempty"`
	CompanyContact    string `json:"company_contact,omitempty"`
}

type WorkflowStatus struct {
	UUID           string `json:"uuid"`
	InternalStatus string `json:"internal_status"`
	ExternalStatus string `json:"external_status"`
	StatusCode     string `json:"status_code"`
}

// Membership is an application moving through the approval workflow.
type Membership struct {
	ID                   int             `json:"id,omitempty"`
	UUID                 string          `json:"uuid"`
	ReferenceNo          string          `json:"reference_no,omitempty"`
	User                 string          `json:"user,omitempty"`
	ProfilePicture       string          `json:"profile_picture,omitempty"`
	AppliedDate          string          `json:"applied_date,omitempty"`
	MembershipType       *MembershipType `json:"membership_type,omitempty"`
	MembershipTypeName   string          `json:"membership_type_name,omitempty"`
	MembershipNumber     string          `json:"membership_number,omitempty"`
	ProfileInfo          *ProfileInfo    `json:"profile_info,omitempty"`
	ContactInfo          *ContactInfo    `json:"contact_info,omitempty"`
	EducationInfo        *EducationInfo  `json:"education_info,omitempty"`
	WorkInfo             *WorkInfo       `json:"work_info,omitempty"`
	WorkflowStatus       *WorkflowStatus `json:"workflow_status,omitempty"`
	WorkflowStatusName   string          `json:"workflow_status_name,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	IsProfileCompleted   bool            `json:"is_profile_completed"`
	IsContactCompleted   bool            `json:"is_contact_completed"`
	IsEducationCompleted bool            `json:"is_education_completed"`
	IsWorkCompleted      bool            `json:"is_work_completed"`
	IsPaymentGenerated   bool            `json:"is_payment_generated"`
	SubmittedAt          *time.Time      `json:"submitted_at,omitempty"`
	CanEdit              bool            `json:"can_edit"`
}

// Payment amounts travel as decimal strings ("120.00").
type Payment struct {
	UUID        string          `json:"uuid"`
	Method      string          `json:"method"`
	Provider    string          `json:"provider,omitempty"`
	Status      string          `json:"status"`
	ExternalID  string          `json:"external_id,omitempty"`
	ReferenceNo string          `json:"reference_no,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PeriodYear  int             `json:"period_year,omitempty"`
	DueDate     string          `json:"due_date,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	QRCode      string          `json:"qr_code,omitempty"`
}

// Record is an untyped resource for modules accessed generically.
type Record map[string]any

// ID returns the numeric "id" of the record, or zero.
func (r Record) ID() int {
	switch v := r["id"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// String returns the named field formatted for display.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	return formatCell(v)
}
