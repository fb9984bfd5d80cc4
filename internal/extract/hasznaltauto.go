package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"carcrawler/internal/domain"
	"carcrawler/internal/fetch"
)

// Page selectors of the listings site.
const (
	selNextPage      = "li.next a[href]"
	selListingLink   = `a[title][href*="/szemelyauto/"]`
	selThumbnail     = `img[itemprop="thumbnail"]`
	selBrand         = `a[type="marka"]`
	selModel         = `a[type="modell"]`
	selModelGroup    = `a[type="modellcsoport"]`
	selAttributes    = "table.hirdetesadatok"
	selDetailSection = "div.col-xs-28.col-sm-14"
	selDescription   = "div.leiras"
	selOtherInfo     = "div.egyebinformacio"

	headingDescription = "Leírás"
	headingOtherInfo   = "Egyéb információ"
)

// Hasznaltauto implements Extractor and ResultParser for the hasznaltauto.hu layout.
type Hasznaltauto struct {
	images fetch.ByteGetter
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewHasznaltauto creates the site extractor. When images is nil thumbnails keep
// their URL only and no image bytes are downloaded.
func NewHasznaltauto(images fetch.ByteGetter, logger logrus.FieldLogger) *Hasznaltauto {
	return &Hasznaltauto{
		images: images,
		now:    time.Now,
		log:    logger.WithField("component", "extractor"),
	}
}

// Extract implements Extractor.
func (h *Hasznaltauto) Extract(ctx context.Context, link string, doc *goquery.Document) (domain.Listing, error) {
	root := doc.Selection

	// Mandatory fields first; a missing one breaks the listing.
	common, err := CommonAttributes(root)
	if err != nil {
		return domain.Listing{}, err
	}

	images, err := h.thumbnails(ctx, doc)
	if err != nil {
		return domain.Listing{}, err
	}

	// Optional sections degrade to empty values.
	return domain.Listing{
		ID:          domain.ListingID(link),
		Link:        link,
		Images:      images,
		Common:      common,
		Details:     Details(root),
		Description: DescriptionSections(root),
		FetchedAt:   h.now().UTC(),
	}, nil
}

// --- Result pages ---

// NextPage implements ResultParser.
func (h *Hasznaltauto) NextPage(doc *goquery.Document) (string, bool) {
	next, ok := find(doc.Selection, selNextPage)
	if !ok {
		return "", false
	}
	href, _ := next.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	return resolve(doc.Url, href), true
}

// ListingLinks implements ResultParser. Styled anchors (any non-empty class) are
// navigation or promotion links and are skipped.
func (h *Hasznaltauto) ListingLinks(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find(selListingLink).Each(func(_ int, a *goquery.Selection) {
		if class, ok := a.Attr("class"); ok && strings.TrimSpace(class) != "" {
			return
		}
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		link := resolve(doc.Url, href)
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// CommonAttributes collects brand, model, model group and the main attribute table.
// Brand, model and the table are mandatory; a missing model group yields "".
func CommonAttributes(root *goquery.Selection) (map[string]string, error) {
	brand, err := findRequired(root, selBrand)
	if err != nil {
		return nil, err
	}
	model, err := findRequired(root, selModel)
	if err != nil {
		return nil, err
	}
	table, err := findRequired(root, selAttributes)
	if err != nil {
		return nil, err
	}

	common := map[string]string{
		"brand":       cleanText(brand.Text()),
		"model":       cleanText(model.Text()),
		"model_group": "",
	}
	if group, ok := find(root, selModelGroup); ok {
		common["model_group"] = cleanText(group.Text())
	}

	for k, v := range AttributeTable(table) {
		common[k] = v
	}
	return common, nil
}

// AttributeTable reads a two-column table. Rows are kept only when exactly two
// non-empty cells are present.
func AttributeTable(table *goquery.Selection) map[string]string {
	attrs := make(map[string]string)
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			if text := strings.TrimSpace(td.Text()); text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) == 2 {
			attrs[cells[0]] = cleanText(cells[1])
		}
	})
	return attrs
}

// Details maps each known category title to its option lines. Unknown sections
// and categories absent from the page are left out.
func Details(root *goquery.Selection) map[string][]string {
	details := make(map[string][]string)
	root.Find(selDetailSection).Each(func(_ int, section *goquery.Selection) {
		text := section.Text()
		for _, title := range domain.DetailCategories {
			if !strings.Contains(text, title) {
				continue
			}
			all := lines(text)
			options := []string{}
			for i, line := range all {
				if strings.Contains(line, title) {
					options = append(options, all[i+1:]...)
					break
				}
			}
			details[title] = options
		}
	})
	return details
}

// DescriptionSections reads the free-text sections. Both are optional.
func DescriptionSections(root *goquery.Selection) domain.Description {
	desc := domain.Description{Other: []string{}}

	if div, ok := find(root, selDescription); ok {
		text := withoutHeading(lines(div.Text()), headingDescription)
		desc.Text = strings.Join(text, "\n")
	}
	if div, ok := find(root, selOtherInfo); ok {
		desc.Other = append(desc.Other, withoutHeading(lines(div.Text()), headingOtherInfo)...)
	}
	return desc
}

func withoutHeading(lines []string, heading string) []string {
	if len(lines) > 0 && strings.EqualFold(strings.TrimSuffix(lines[0], ":"), heading) {
		return lines[1:]
	}
	return lines
}

// --- Thumbnails ---

func (h *Hasznaltauto) thumbnails(ctx context.Context, doc *goquery.Document) ([]domain.Image, error) {
	images := []domain.Image{}

	var srcs []string
	doc.Find(selThumbnail).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			srcs = append(srcs, resolve(doc.Url, strings.TrimSpace(src)))
		}
	})

	for _, src := range srcs {
		img := domain.Image{URL: src}
		if h.images != nil {
			data, contentType, err := h.images.Bytes(ctx, src)
			if err != nil {
				return nil, fmt.Errorf("failed to download thumbnail %s: %w", src, err)
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode thumbnail %s: %w", src, err)
			}
			img.Data = data
			img.ContentType = contentType
			img.Width = cfg.Width
			img.Height = cfg.Height
			h.log.WithFields(logrus.Fields{"image": src, "bytes": len(data)}).Debug("Thumbnail downloaded")
		}
		images = append(images, img)
	}
	return images, nil
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
