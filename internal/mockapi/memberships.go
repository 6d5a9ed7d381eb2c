package mockapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bmr-systems/bmr-admin/internal/resources"
)

type workflowStatus struct {
	id       int
	code     string
	internal string
}

var workflow = []workflowStatus{
	{id: 1, code: "10", internal: "Draft"},
	{id: 2, code: "11", internal: "Submitted"},
	{id: 3, code: "13", internal: "Revision Requested"},
	{id: 4, code: "14", internal: "Rejected"},
	{id: 5, code: "16", internal: "Approved"},
}

var actionCodes = map[string]string{
	resources.DecisionApprove: "16",
	resources.DecisionReject:  "14",
	resources.DecisionRevise:  "13",
}

// lookups served by the membership endpoints, keyed by path segment.
var lookups = map[string][]item{
	"education-levels": {
		{"id": 1, "uuid": "edu-1", "name": "Secondary"},
		{"id": 2, "uuid": "edu-2", "name": "Diploma"},
		{"id": 3, "uuid": "edu-3", "name": "Degree"},
	},
	"institutions": {
		{"id": 1, "uuid": "inst-1", "name": "National University of Singapore"},
		{"id": 2, "uuid": "inst-2", "name": "Nanyang Technological University"},
	},
}

var membershipTypes = []item{
	{"id": 1, "uuid": "type-1", "name": "Ordinary", "amount": "120.00", "description": "Annual ordinary membership"},
	{"id": 2, "uuid": "type-2", "name": "Life", "amount": "1500.00", "description": "Life membership"},
	{"id": 3, "uuid": "type-3", "name": "Student", "amount": "30.00", "description": "Full-time students"},
}

func seedLookups(s *store) {
	for _, name := range []string{"Can add post", "Can change post", "Can delete post", "Can view membership"} {
		codename := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, "Can "), " ", "_"))
		_, _ = s.insert("permissions", item{"name": name, "codename": codename, "app_label": "bmr"})
	}
}

// membershipHandler serves the application wizard, payments and the
// management workflow, and hands everything else to next.
func (s *Server) membershipHandler(next http.Handler) http.Handler {
	base := resources.MustLookup("memberships").Path
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, base), "/")
		get, post := r.Method == http.MethodGet, r.Method == http.MethodPost

		switch {
		case rest == "my-membership" && get:
			m, found := s.myMembership(r)
			if !found {
				detail(w, http.StatusNotFound, "No membership found.")
				return
			}
			ok(w, http.StatusOK, m, "")
		case rest == "submit-page1" && post:
			s.submitPage1(w, r)
		case rest == "submit-page2" && post:
			s.submitPage2(w, r)
		case rest == "create-payment" && post:
			s.createPayment(w, r, true)
		case rest == "offline-payment" && post:
			s.createPayment(w, r, false)
		case rest == "payments" && get:
			m, _ := s.myMembership(r)
			ok(w, http.StatusOK, s.store.paymentsOf(fmt.Sprint(m["uuid"])), "Payments")
		case rest == "membership-types" && get:
			ok(w, http.StatusOK, membershipTypes, "")
		case lookups[rest] != nil && get:
			ok(w, http.StatusOK, lookups[rest], "")
		case strings.HasPrefix(rest, "management/") && strings.HasSuffix(rest, "/workflow-decision") && post:
			key := strings.TrimSuffix(strings.TrimPrefix(rest, "management/"), "/workflow-decision")
			s.decide(w, r, key)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) myMembership(r *http.Request) (item, bool) {
	user := owner(r)
	items := s.store.query("memberships", map[string]string{"user": user}, "", "")
	if len(items) == 0 {
		return nil, false
	}
	return items[0], true
}

func owner(r *http.Request) string {
	if acc := accountFrom(r.Context()); acc != nil {
		return acc.Username
	}
	return "anonymous"
}

func (s *Server) submitPage1(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	errs := map[string][]string{}
	profile, _ := fields["profile_info"].(map[string]any)
	contact, _ := fields["contact_info"].(map[string]any)
	if profile == nil || strings.TrimSpace(fmt.Sprint(profile["full_name"])) == "" || profile["full_name"] == nil {
		errs["profile_info"] = []string{"This field is required."}
	}
	if contact == nil || contact["nric_fin"] == nil {
		errs["contact_info"] = []string{"This field is required."}
	}
	mt := findType(fields["membership_type"])
	if mt == nil {
		errs["membership_type"] = []string{"Invalid pk - object does not exist."}
	}
	if len(errs) > 0 {
		fieldErrors(w, errs)
		return
	}

	update := item{
		"profile_info":         profile,
		"contact_info":         maskContact(contact),
		"membership_type":      mt,
		"membership_type_name": mt["name"],
		"is_profile_completed": true,
		"is_contact_completed": true,
		"can_edit":             true,
	}
	if pic, found := fields["profile_picture"]; found {
		update["profile_picture"] = pic
	}

	var m item
	if current, found := s.myMembership(r); found {
		if current["can_edit"] == false {
			fieldErrors(w, map[string][]string{"non_field_errors": {"Cannot edit membership after approval"}})
			return
		}
		m, err = s.store.update("memberships", fmt.Sprint(current["id"]), update, false)
	} else {
		update["user"] = owner(r)
		update["reference_no"] = fmt.Sprintf("BMR-%s", strings.ToUpper(uuid.NewString()[:8]))
		update["workflow_status"] = statusItem(workflow[0])
		update["workflow_status_name"] = workflow[0].internal
		update["applied_date"] = s.store.now().Format(time.DateOnly)
		m, err = s.store.insert("memberships", update)
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, http.StatusOK, m, "Page 1 completed successfully. Please proceed to Page 2.")
}

func (s *Server) submitPage2(w http.ResponseWriter, r *http.Request) {
	current, found := s.myMembership(r)
	if !found || current["is_profile_completed"] != true {
		fieldErrors(w, map[string][]string{"non_field_errors": {"Please complete Page 1 first."}})
		return
	}
	fields, err := readFields(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.store.update("memberships", fmt.Sprint(current["id"]), item{
		"education_info":         fields["education_info"],
		"work_info":              fields["work_info"],
		"is_education_completed": true,
		"is_work_completed":      true,
		"is_payment_generated":   true,
		"submitted_at":           s.store.now().UTC().Format(time.RFC3339),
		"workflow_status":        statusItem(workflow[1]),
		"workflow_status_name":   workflow[1].internal,
	}, false)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	payment := s.store.addPayment(fmt.Sprint(m["uuid"]), s.newPayment(m, "hitpay", nil, ""))
	ok(w, http.StatusOK, map[string]any{
		"membership":       m,
		"payment":          payment,
		"qr_code_url":      payment["qr_code"],
		"payment_amount":   payment["amount"],
		"payment_currency": payment["currency"],
	}, "Application submitted successfully! Please scan the QR code to complete payment.")
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request, online bool) {
	m, found := s.myMembership(r)
	if !found {
		detail(w, http.StatusNotFound, "No membership found.")
		return
	}
	fields, err := readFields(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	var amount *decimal.Decimal
	if raw, present := fields["amount"]; present && raw != nil {
		d, err := decimal.NewFromString(fmt.Sprint(raw))
		if err != nil {
			fieldErrors(w, map[string][]string{"amount": {"A valid number is required."}})
			return
		}
		amount = &d
	}

	method := "hitpay"
	if !online {
		method = fmt.Sprint(fields["method"])
		if method != resources.MethodBankTransfer && method != resources.MethodCash {
			fieldErrors(w, map[string][]string{"method": {fmt.Sprintf("\"%s\" is not a valid choice.", method)}})
			return
		}
	}

	p := s.newPayment(m, method, amount, stringField(fields, "reference_no"))
	if cur := stringField(fields, "currency"); cur != "" {
		p["currency"] = strings.ToUpper(cur)
	}
	if desc := stringField(fields, "description"); desc != "" {
		p["description"] = desc
	}
	if receipt, found := fields["receipt_image"]; found {
		p["receipt_image"] = receipt
	}
	payment := s.store.addPayment(fmt.Sprint(m["uuid"]), p)

	msg := "Online payment intent created."
	if !online {
		msg = "Offline payment recorded (pending)."
	}
	ok(w, http.StatusCreated, payment, msg)
}

func (s *Server) newPayment(m item, method string, amount *decimal.Decimal, reference string) item {
	fee := decimal.Zero
	if mt, _ := m["membership_type"].(map[string]any); mt != nil {
		fee, _ = decimal.NewFromString(fmt.Sprint(mt["amount"]))
	}
	if amount != nil {
		fee = *amount
	}
	p := item{
		"method":       method,
		"status":       "pending",
		"amount":       fee.StringFixed(2),
		"currency":     resources.DefaultCurrency,
		"period_year":  s.store.now().Year(),
		"reference_no": reference,
		"description":  fmt.Sprintf("Membership application payment - %v", m["reference_no"]),
	}
	if method == "hitpay" {
		id := uuid.NewString()
		p["provider"] = "hitpay"
		p["status"] = "created"
		p["external_id"] = id
		p["qr_code"] = "https://mock.hitpay/qr/" + id
	}
	return p
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, key string) {
	if acc := accountFrom(r.Context()); acc != nil && !acc.IsStaff && !acc.IsSuperuser {
		detail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}
	fields, err := readFields(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	var target *workflowStatus
	switch {
	case toInt(fields["status_id"]) != 0:
		target = findStatus(func(st workflowStatus) bool { return st.id == toInt(fields["status_id"]) })
		if target == nil {
			fieldErrors(w, map[string][]string{"status_id": {"Invalid status_id."}})
			return
		}
	case stringField(fields, "status_code") != "":
		code := stringField(fields, "status_code")
		target = findStatus(func(st workflowStatus) bool { return st.code == code })
		if target == nil {
			fieldErrors(w, map[string][]string{"status_code": {"Invalid status_code."}})
			return
		}
	default:
		code, found := actionCodes[stringField(fields, "action")]
		if !found {
			fieldErrors(w, map[string][]string{"non_field_errors": {"Provide either 'action' (approve/reject/revise) or 'status_id' / 'status_code'."}})
			return
		}
		target = findStatus(func(st workflowStatus) bool { return st.code == code })
	}

	m, err := s.store.update("memberships", key, item{
		"workflow_status":      statusItem(*target),
		"workflow_status_name": target.internal,
		"reason":               stringField(fields, "comment"),
		"can_edit":             target.code == "13",
	}, false)
	if err != nil {
		s.writeStoreError(w, resources.MustLookup("memberships"), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func findStatus(match func(workflowStatus) bool) *workflowStatus {
	for i := range workflow {
		if match(workflow[i]) {
			return &workflow[i]
		}
	}
	return nil
}

func statusItem(st workflowStatus) item {
	return item{"uuid": fmt.Sprintf("status-%d", st.id), "internal_status": st.internal, "external_status": st.internal, "status_code": st.code}
}

func findType(v any) item {
	id := toInt(v)
	for _, mt := range membershipTypes {
		if toInt(mt["id"]) == id {
			return clone(mt)
		}
	}
	return nil
}

func maskContact(contact map[string]any) map[string]any {
	out := make(map[string]any, len(contact)*2)
	for k, v := range contact {
		out[k] = v
		if s, isStr := v.(string); isStr && (k == "nric_fin" || strings.HasSuffix(k, "_contact")) {
			out[k+"_masked"] = mask(s)
		}
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func stringField(fields item, key string) string {
	v, found := fields[key]
	if !found || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
