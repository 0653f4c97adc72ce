package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"smsinbox/internal/models"
	"smsinbox/internal/phone"
	"smsinbox/internal/realtime"
	"smsinbox/internal/repository"
	"smsinbox/internal/service"
	"smsinbox/pkg/logger"
)

// seedContact is one demo counterparty with the first message they sent
type seedContact struct {
	Phone string
	Name  string
	Text  string
}

var seedContacts = []seedContact{
	{Phone: "+15551230001", Name: "Alice Brown", Text: "Hi, is my order ready for pickup?"},
	{Phone: "+15551230002", Name: "Brian Otieno", Text: "Can we move the appointment to Friday?"},
	{Phone: "+15551230003", Name: "Carla Mendes", Text: "Thanks for the reminder!"},
	{Phone: "+15551230004", Name: "David Kim", Text: "What time do you close today?"},
	{Phone: "+15551230005", Name: "Esther Wanjiru", Text: "STOP"},
	{Phone: "+15551230006", Name: "Farid Haddad", Text: "Please call me back when you can."},
	{Phone: "+15551230007", Name: "Grace Lee", Text: "Got it, see you then."},
	{Phone: "+15551230008", Name: "Hugo Martin", Text: "Is the delivery still on for tomorrow?"},
}

// seedServices is replaced in tests
var seedServices = func() (*service.ConversationRegistry, *service.MessageStore, string, func(), error) {
	cfg, db, log, cleanup, err := connect()
	if err != nil {
		return nil, nil, "", nil, err
	}
	registry, store := newSeedServices(
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		cfg.Gateway.DefaultCountryCode,
		log,
	)
	return registry, store, cfg.Gateway.FromNumber, cleanup, nil
}

func newSeedServices(conversations repository.ConversationRepository, messages repository.MessageRepository, countryCode string, log *logger.Logger) (*service.ConversationRegistry, *service.MessageStore) {
	// events go to a hub nobody listens on
	hub := realtime.NewHub(0, log)
	store := service.NewMessageStore(messages, hub, log)
	registry := service.NewConversationRegistry(conversations, store, phone.NewNormalizer(countryCode), log)
	return registry, store
}

func newSeedCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo conversations with one inbound message each",
		Long: `Creates demo conversations and an inbound message for each.

Safe to run more than once: conversations are looked up by phone number and
seed messages carry fixed provider ids, so repeats are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, store, ownNumber, cleanup, err := seedServices()
			if err != nil {
				return err
			}
			defer cleanup()
			return runSeed(cmd.Context(), cmd.OutOrStdout(), registry, store, ownNumber, count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", len(seedContacts), "number of conversations to create")
	return cmd
}

func runSeed(ctx context.Context, out io.Writer, registry *service.ConversationRegistry, store *service.MessageStore, ownNumber string, count int) error {
	if count < 0 || count > len(seedContacts) {
		return fmt.Errorf("count must be between 0 and %d", len(seedContacts))
	}
	if ownNumber == "" {
		ownNumber = "+15550000000"
	}

	created, skipped := 0, 0
	for i, contact := range seedContacts[:count] {
		name := contact.Name
		conversation, err := registry.GetOrCreate(ctx, contact.Phone, &name)
		if err != nil {
			return fmt.Errorf("seed conversation %s: %w", contact.Phone, err)
		}

		providerID := fmt.Sprintf("seed-%03d", i+1)
		inserted, err := store.RecordInbound(ctx, &models.Message{
			ConversationID:    conversation.ID,
			ProviderMessageID: &providerID,
			Direction:         models.DirectionInbound,
			FromNumber:        conversation.PhoneNumber,
			ToNumber:          ownNumber,
			Body:              contact.Text,
			Status:            models.MessageStatusReceived,
		})
		if err != nil {
			return fmt.Errorf("seed message for %s: %w", contact.Phone, err)
		}
		if inserted {
			created++
		} else {
			skipped++
		}
	}

	fmt.Fprintf(out, "Seeded %d message(s), %d already present\n", created, skipped)
	return nil
}
