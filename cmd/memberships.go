package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

var membershipMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Show your own membership application",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		m, err := s.catalog.Memberships.Mine(cmd.Context())
		if err != nil {
			return err
		}
		return printMembership(s.format, m)
	}),
}

var membershipShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show a membership by UUID",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		m, err := s.catalog.Memberships.ByUUID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printMembership(s.format, m)
	}),
}

var membershipApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit the first page of an application",
	Long:  "Send profile, contact details and membership type. A picture makes the request multipart.",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		f := cmd.Flags()
		var in resources.Page1
		in.ProfileInfo.FullName, _ = f.GetString("full-name")
		in.ProfileInfo.DateOfBirth, _ = f.GetString("date-of-birth")
		in.ProfileInfo.Gender, _ = f.GetString("gender")
		in.ProfileInfo.Citizenship, _ = f.GetString("citizenship")
		in.ContactInfo.NRICFin, _ = f.GetString("nric")
		in.ContactInfo.PrimaryContact, _ = f.GetString("contact")
		in.ContactInfo.SecondaryContact, _ = f.GetString("secondary-contact")
		in.ContactInfo.Address, _ = f.GetString("address")
		in.ContactInfo.PostalCode, _ = f.GetString("postal-code")
		in.MembershipType, _ = f.GetInt("type")

		if path, _ := f.GetString("picture"); path != "" {
			pic, err := os.Open(path)
			if err != nil {
				return err
			}
			defer pic.Close()
			in.Picture, in.PictureName = pic, filepath.Base(path)
		}

		m, err := s.catalog.Memberships.SubmitPage1(cmd.Context(), in)
		if err != nil {
			return err
		}
		output.Success("Application %s saved, continue with 'bmrctl memberships complete'", m.UUID)
		return nil
	}),
}

var membershipCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Submit the second page and generate the payment",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		f := cmd.Flags()
		var in resources.Page2
		if f.Changed("education") {
			id, _ := f.GetInt("education")
			in.EducationInfo.Education = &id
		}
		if f.Changed("institution") {
			id, _ := f.GetInt("institution")
			in.EducationInfo.Institution = &id
		}
		in.EducationInfo.OtherSocieties, _ = f.GetString("other-societies")
		in.WorkInfo.Occupation, _ = f.GetString("occupation")
		in.WorkInfo.CompanyName, _ = f.GetString("company")
		in.WorkInfo.CompanyAddress, _ = f.GetString("company-address")
		in.WorkInfo.CompanyPostalCode, _ = f.GetString("company-postal-code")
		in.WorkInfo.CompanyContact, _ = f.GetString("company-contact")

		sub, err := s.catalog.Memberships.SubmitPage2(cmd.Context(), in)
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, sub); done {
			return err
		}
		output.Success("Application %s submitted", sub.Membership.UUID)
		if sub.PaymentAmount != nil {
			output.Info("Payment due: %s %s", sub.PaymentAmount.StringFixed(2), sub.PaymentCurrency)
		}
		if sub.QRCodeURL != "" {
			output.Info("Pay at %s", sub.QRCodeURL)
		}
		return nil
	}),
}

var membershipPaymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "List payments of your membership",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		payments, err := s.catalog.Memberships.Payments(cmd.Context())
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, payments); done {
			return err
		}
		if len(payments) == 0 {
			output.Info("No payments found.")
			return nil
		}
		table := output.NewTable([]string{"UUID", "METHOD", "STATUS", "AMOUNT", "YEAR", "REFERENCE"})
		for _, p := range payments {
			table.AddRow([]string{p.UUID, p.Method, p.Status, p.Amount.StringFixed(2) + " " + p.Currency,
				fmt.Sprint(p.PeriodYear), p.ReferenceNo})
		}
		table.Render()
		return nil
	}),
}

var membershipPayOnlineCmd = &cobra.Command{
	Use:   "pay-online",
	Short: "Request an online payment",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		f := cmd.Flags()
		var in resources.OnlinePayment
		amount, err := amountFlag(cmd)
		if err != nil {
			return err
		}
		in.Amount = amount
		in.Currency, _ = f.GetString("currency")
		in.PeriodYear, _ = f.GetInt("year")
		in.Description, _ = f.GetString("description")

		p, err := s.catalog.Memberships.CreateOnlinePayment(cmd.Context(), in)
		if err != nil {
			return err
		}
		return printPayment(s.format, p)
	}),
}

var membershipPayOfflineCmd = &cobra.Command{
	Use:   "pay-offline",
	Short: "Record a bank transfer or cash payment",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		f := cmd.Flags()
		var in resources.OfflinePayment
		amount, err := amountFlag(cmd)
		if err != nil {
			return err
		}
		in.Amount = amount
		in.Method, _ = f.GetString("method")
		in.Currency, _ = f.GetString("currency")
		in.PeriodYear, _ = f.GetInt("year")
		in.ReferenceNo, _ = f.GetString("reference")
		in.Description, _ = f.GetString("description")

		if path, _ := f.GetString("receipt"); path != "" {
			receipt, err := os.Open(path)
			if err != nil {
				return err
			}
			defer receipt.Close()
			in.Receipt, in.ReceiptName = receipt, filepath.Base(path)
		}

		p, err := s.catalog.Memberships.CreateOfflinePayment(cmd.Context(), in)
		if err != nil {
			return err
		}
		return printPayment(s.format, p)
	}),
}

var membershipDecideCmd = &cobra.Command{
	Use:   "decide <uuid>",
	Short: "Approve, reject or send back an application",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		f := cmd.Flags()
		var d resources.Decision
		d.Action, _ = f.GetString("action")
		d.Comment, _ = f.GetString("comment")
		d.StatusCode, _ = f.GetString("status-code")

		m, err := s.catalog.Memberships.Decide(cmd.Context(), args[0], d)
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, m); done {
			return err
		}
		output.Success("Membership %s is now %s", m.UUID, m.WorkflowStatusName)
		return nil
	}),
}

var membershipTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List membership types and fees",
	Args:  cobra.NoArgs,
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		types, err := s.catalog.Memberships.MembershipTypes(cmd.Context())
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, types); done {
			return err
		}
		table := output.NewTable([]string{"ID", "NAME", "FEE"})
		for _, t := range types {
			table.AddRow([]string{fmt.Sprint(t.ID), t.Name, t.Amount.StringFixed(2)})
		}
		table.Render()
		return nil
	}),
}

var membershipLookupsCmd = &cobra.Command{
	Use:       "lookups <education-levels|institutions>",
	Short:     "List education levels or institutions",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"education-levels", "institutions"},
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		var (
			items []resources.LookupItem
			err   error
		)
		switch args[0] {
		case "education-levels":
			items, err = s.catalog.Memberships.EducationLevels(cmd.Context())
		case "institutions":
			items, err = s.catalog.Memberships.Institutions(cmd.Context())
		default:
			return fmt.Errorf("unknown lookup %q", args[0])
		}
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, items); done {
			return err
		}
		table := output.NewTable([]string{"ID", "NAME"})
		for _, it := range items {
			table.AddRow([]string{fmt.Sprint(it.ID), it.Name})
		}
		table.Render()
		return nil
	}),
}

func amountFlag(cmd *cobra.Command) (*decimal.Decimal, error) {
	s, _ := cmd.Flags().GetString("amount")
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return &d, nil
}

func printMembership(format output.Format, m *resources.Membership) error {
	if done, err := output.Structured(format, m); done {
		return err
	}
	typeName := m.MembershipTypeName
	if typeName == "" && m.MembershipType != nil {
		typeName = m.MembershipType.Name
	}
	output.Fields([][2]string{
		{"UUID", m.UUID},
		{"Reference", m.ReferenceNo},
		{"Type", typeName},
		{"Status", m.WorkflowStatusName},
		{"Number", m.MembershipNumber},
		{"Profile", yesNo(m.IsProfileCompleted)},
		{"Contact", yesNo(m.IsContactCompleted)},
		{"Education", yesNo(m.IsEducationCompleted)},
		{"Work", yesNo(m.IsWorkCompleted)},
		{"Payment", yesNo(m.IsPaymentGenerated)},
	})
	return nil
}

func printPayment(format output.Format, p *resources.Payment) error {
	if done, err := output.Structured(format, p); done {
		return err
	}
	output.Success("Payment %s created (%s %s, %s)", p.UUID, p.Amount.StringFixed(2), p.Currency, p.Status)
	return nil
}

func init() {
	c := resourceCmds["memberships"]
	c.AddCommand(membershipMineCmd, membershipShowCmd, membershipApplyCmd, membershipCompleteCmd,
		membershipPaymentsCmd, membershipPayOnlineCmd, membershipPayOfflineCmd, membershipDecideCmd,
		membershipTypesCmd, membershipLookupsCmd)

	f := membershipApplyCmd.Flags()
	f.String("full-name", "", "applicant full name")
	f.String("date-of-birth", "", "date of birth, YYYY-MM-DD")
	f.String("gender", "", "gender")
	f.String("citizenship", "", "citizenship")
	f.String("nric", "", "NRIC/FIN number")
	f.String("contact", "", "primary contact number")
	f.String("secondary-contact", "", "secondary contact number")
	f.String("address", "", "residential address")
	f.String("postal-code", "", "postal code")
	f.Int("type", 0, "membership type id (see 'memberships types')")
	f.String("picture", "", "profile picture file")

	f = membershipCompleteCmd.Flags()
	f.Int("education", 0, "education level id")
	f.Int("institution", 0, "institution id")
	f.String("other-societies", "", "other societies")
	f.String("occupation", "", "occupation")
	f.String("company", "", "company name")
	f.String("company-address", "", "company address")
	f.String("company-postal-code", "", "company postal code")
	f.String("company-contact", "", "company contact number")

	for _, pc := range []*cobra.Command{membershipPayOnlineCmd, membershipPayOfflineCmd} {
		pc.Flags().String("amount", "", "amount, defaults to the membership fee")
		pc.Flags().String("currency", resources.DefaultCurrency, "currency")
		pc.Flags().Int("year", 0, "membership period year, defaults to the current year")
		pc.Flags().String("description", "", "payment description")
	}
	membershipPayOfflineCmd.Flags().String("method", resources.MethodBankTransfer, "bank_transfer or cash")
	membershipPayOfflineCmd.Flags().String("reference", "", "transfer reference number")
	membershipPayOfflineCmd.Flags().String("receipt", "", "receipt image file")

	membershipDecideCmd.Flags().String("action", "", "approve, reject or revise")
	membershipDecideCmd.Flags().String("comment", "", "comment for the applicant")
	membershipDecideCmd.Flags().String("status-code", "", "explicit workflow status code")
}
