package storage

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"carcrawler/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type brokenSet []string

func (b brokenSet) Broken() []string { return b }

func sampleListing(id string) domain.Listing {
	return domain.Listing{
		ID:   id,
		Link: "https://www.hasznaltauto.hu/szemelyauto/bmw/x5/bmw_x5-" + id,
		Images: []domain.Image{
			{URL: "https://img.example.com/" + id + ".jpg", ContentType: "image/jpeg", Width: 4, Height: 3, Data: []byte{1, 2, 3}},
		},
		Common: map[string]string{
			"brand":       "BMW",
			"model":       "X5",
			"model_group": "",
			"Vételár:":    "10900000 Ft",
		},
		Details: map[string][]string{
			domain.CategoryInterior: {"bőr kárpit", "ülésfűtés"},
		},
		Description: domain.Description{
			Text:  "Megkímélt állapot.",
			Other: []string{"garázsban tartott"},
		},
		FetchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sampleListings(n int) []domain.Listing {
	out := make([]domain.Listing, n)
	for i := range out {
		out[i] = sampleListing(strconv.Itoa(1000 + i))
	}
	return out
}
