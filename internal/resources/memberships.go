package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/validate"
)

// Workflow decisions a manager can take on an application.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionRevise  = "revise"
)

// Offline payment methods.
const (
	MethodBankTransfer = "bank_transfer"
	MethodCash         = "cash"
)

const DefaultCurrency = "SGD"

// Page1 is the first step of an application: who the applicant is and
// which membership they apply for.
type Page1 struct {
	ProfileInfo    Page1Profile `json:"profile_info"`
	ContactInfo    Page1Contact `json:"contact_info"`
	MembershipType int          `json:"membership_type" validate:"required,gt=0"`

	PictureName string    `json:"-"`
	Picture     io.Reader `json:"-"`
}

type Page1Profile struct {
	FullName       string `json:"full_name" validate:"required,max=255"`
	DateOfBirth    string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender         string `json:"gender,omitempty"`
	CountryOfBirth string `json:"country_of_birth,omitempty"`
	CityOfBirth    string `json:"city_of_birth,omitempty"`
	Citizenship    string `json:"citizenship,omitempty"`
}

type Page1Contact struct {
	NRICFin           string `json:"nric_fin" validate:"required,nric"`
	PrimaryContact    string `json:"primary_contact" validate:"required,max=25"`
	SecondaryContact  string `json:"secondary_contact,omitempty" validate:"omitempty,max=25"`
	ResidentialStatus string `json:"residential_status,omitempty"`
	PostalCode        string `json:"postal_code,omitempty"`
	Address           string `json:"address,omitempty"`
}

// Page2 completes the application and generates the payment request.
type Page2 struct {
	EducationInfo EducationInfo `json:"education_info"`
	WorkInfo      WorkInfo      `json:"work_info"`
}

// Submission is the result of the second page.
type Submission struct {
	Membership      Membership       `json:"membership"`
	Payment         *Payment         `json:"payment"`
	QRCodeURL       string           `json:"qr_code_url"`
	PaymentAmount   *decimal.Decimal `json:"payment_amount"`
	PaymentCurrency string           `json:"payment_currency"`
}

// OnlinePayment asks the gateway for a payment request. Zero values let
// the server use the membership fee, the current year and a default
// description.
type OnlinePayment struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	PeriodYear  int              `json:"period_year,omitempty"`
	Description string           `json:"description,omitempty"`
}

// OfflinePayment records a bank transfer or cash payment pending staff
// confirmation.
type OfflinePayment struct {
	Method      string           `json:"method" validate:"required,oneof=bank_transfer cash"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	PeriodYear  int              `json:"period_year,omitempty"`
	ReferenceNo string           `json:"reference_no,omitempty"`
	Description string           `json:"description,omitempty"`

	ReceiptName string    `json:"-"`
	Receipt     io.Reader `json:"-"`
}

// Decision is a management workflow transition. Either Action or an
// explicit StatusID/StatusCode must be set.
type Decision struct {
	Action     string `json:"action,omitempty" validate:"omitempty,oneof=approve reject revise"`
	Comment    string `json:"comment,omitempty" validate:"max=2000"`
	StatusID   int    `json:"status_id,omitempty"`
	StatusCode string `json:"status_code,omitempty"`
}

// Memberships is the membership collection plus the application wizard,
// payments and the management workflow.
type Memberships struct {
	*repository.Repository[Membership]
}

func NewMemberships(client repository.Client, opts ...repository.Option) *Memberships {
	return &Memberships{Repository: repository.New[Membership](client, MustLookup("memberships").Path, opts...)}
}

// Mine returns the caller's own application.
func (m *Memberships) Mine(ctx context.Context) (*Membership, error) {
	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodGet, Path: m.Path("my-membership")})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Membership](raw)
}

// SubmitPage1 sends profile, contact and membership type. With a picture
// the payload goes multipart with dotted nested keys.
func (m *Memberships) SubmitPage1(ctx context.Context, in Page1) (*Membership, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var body any = in
	if in.Picture != nil {
		form := apiclient.NewForm()
		flattenForm(form, "profile_info", in.ProfileInfo)
		flattenForm(form, "contact_info", in.ContactInfo)
		form.Set("membership_type", strconv.Itoa(in.MembershipType))
		if err := form.AddFile("profile_picture", in.PictureName, in.Picture); err != nil {
			return nil, err
		}
		body = form
	}

	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodPost, Path: m.Path("submit-page1"), Body: body})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Membership](raw)
}

// SubmitPage2 finishes the application and returns the generated payment.
func (m *Memberships) SubmitPage2(ctx context.Context, in Page2) (*Submission, error) {
	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodPost, Path: m.Path("submit-page2"), Body: in})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Submission](raw)
}

func (m *Memberships) CreateOnlinePayment(ctx context.Context, in OnlinePayment) (*Payment, error) {
	if in.Amount != nil && !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", in.Amount)
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodPost, Path: m.Path("create-payment"), Body: in})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Payment](raw)
}

func (m *Memberships) CreateOfflinePayment(ctx context.Context, in OfflinePayment) (*Payment, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	var body any = in
	if in.Receipt != nil {
		form := apiclient.NewForm()
		flattenForm(form, "", in)
		if err := form.AddFile("receipt_image", in.ReceiptName, in.Receipt); err != nil {
			return nil, err
		}
		body = form
	}

	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodPost, Path: m.Path("offline-payment"), Body: body})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Payment](raw)
}

// Payments lists the payments of the caller's membership.
func (m *Memberships) Payments(ctx context.Context) ([]Payment, error) {
	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodGet, Path: m.Path("payments")})
	if err != nil {
		return nil, err
	}
	res, err := repository.DecodeList[Payment](raw)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Decide applies a management decision to the membership with uuid.
func (m *Memberships) Decide(ctx context.Context, uuid string, d Decision) (*Membership, error) {
	if uuid == "" {
		return nil, fmt.Errorf("decide: %w", repository.ErrMissingID)
	}
	if d.Action == "" && d.StatusID == 0 && d.StatusCode == "" {
		return nil, apierr.Invalid(map[string][]string{
			"action": {"Provide either an action (approve/reject/revise) or a status."},
		})
	}
	if err := validate.Struct(d); err != nil {
		return nil, err
	}
	raw, err := m.Raw(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   m.Path("management", uuid, "workflow-decision"),
		Body:   d,
	})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Membership](raw)
}

func (m *Memberships) MembershipTypes(ctx context.Context) ([]MembershipType, error) {
	return lookupList[MembershipType](ctx, m, "membership-types")
}

func (m *Memberships) EducationLevels(ctx context.Context) ([]LookupItem, error) {
	return lookupList[LookupItem](ctx, m, "education-levels")
}

func (m *Memberships) Institutions(ctx context.Context) ([]LookupItem, error) {
	return lookupList[LookupItem](ctx, m, "institutions")
}

func lookupList[T any](ctx context.Context, m *Memberships, name string) ([]T, error) {
	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodGet, Path: m.Path(name)})
	if err != nil {
		return nil, err
	}
	res, err := repository.DecodeList[T](raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res.Items, nil
}

// flattenForm writes the scalar json fields of struct v into form,
// prefixed with "prefix." when prefix is set. Empty values are skipped.
func flattenForm(form *apiclient.Form, prefix string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return
	}
	for _, key := range jsonOrder(v) {
		var s string
		switch t := fields[key].(type) {
		case string:
			s = t
		case bool:
			s = strconv.FormatBool(t)
		case float64:
			s = formatCell(t)
		}
		if s == "" {
			continue
		}
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		form.Set(name, s)
	}
}

// jsonOrder returns the json field names of struct v in declaration order.
func jsonOrder(v any) []string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	names := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ByUUID fetches an application by its public identifier.
func (m *Memberships) ByUUID(ctx context.Context, uuid string) (*Membership, error) {
	if uuid == "" {
		return nil, fmt.Errorf("get membership: %w", repository.ErrMissingID)
	}
	raw, err := m.Raw(ctx, apiclient.Request{Method: http.MethodGet, Path: m.Path(uuid)})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Membership](raw)
}
