package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

var mediaUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file as event media",
	Long:  "Upload a file to the event media library. The title defaults to the file name.",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		in := resources.MediaUpload{Filename: args[0], Content: f}
		in.Event, _ = cmd.Flags().GetInt("event")
		in.Title, _ = cmd.Flags().GetString("title")
		in.MediaInfo, _ = cmd.Flags().GetString("info")

		media, err := s.catalog.EventMedia.UploadFile(cmd.Context(), in)
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, media); done {
			return err
		}
		output.Success("Uploaded %s as media %d (%s)", media.FileName, media.ID, media.Title)
		return nil
	}),
}

func init() {
	resourceCmds["event-media"].AddCommand(mediaUploadCmd)

	mediaUploadCmd.Flags().Int("event", 0, "event id the media belongs to")
	mediaUploadCmd.Flags().String("title", "", "media title")
	mediaUploadCmd.Flags().String("info", "", "media info title (see 'bmrctl event-media-info list')")
}
