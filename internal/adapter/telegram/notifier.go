package telegram

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rl1809/lot-shop/internal/core/domain"
)

// Notifier delivers purchased lots to the buyer's chat as a zip archive.
type Notifier struct {
	api botAPI
}

func NewNotifier(api botAPI) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) DeliverSale(_ context.Context, sale domain.Sale) error {
	archive, err := BuildArchive(sale)
	if err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(sale.Buyer.ID, tgbotapi.FileBytes{
		Name:  archiveName(sale),
		Bytes: archive,
	})
	doc.Caption = fmt.Sprintf(textDeliveryCaption, shortID(sale.ID), len(sale.Items), textPcs, sale.Type)

	if _, err := n.api.Send(doc); err != nil {
		return fmt.Errorf("send archive to %d: %w", sale.Buyer.ID, err)
	}
	return nil
}

// BuildArchive packs every lot of the sale as <type>/<lot id>.txt.
func BuildArchive(sale domain.Sale) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, lot := range sale.Items {
		w, err := zw.Create(fmt.Sprintf("%s/%d.txt", lot.Type, lot.ID))
		if err != nil {
			return nil, fmt.Errorf("add lot %d to archive: %w", lot.ID, err)
		}
		if _, err := w.Write([]byte(lot.Content)); err != nil {
			return nil, fmt.Errorf("write lot %d: %w", lot.ID, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func archiveName(sale domain.Sale) string {
	return fmt.Sprintf("order-%s.zip", shortID(sale.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
