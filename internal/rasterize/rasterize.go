package rasterize

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

// Service converts user-submitted files into the uniform PNG set the
// extraction call expects: every document page becomes one image, in page
// order, and plain images are normalized to PNG.
type Service struct {
	dpi float64
	log *logrus.Entry
}

// New creates a rasterizer rendering document pages at the given DPI.
func New(dpi float64) *Service {
	return &Service{
		dpi: dpi,
		log: logrus.WithField("component", "rasterize"),
	}
}

// PDFPages renders every page of the document to PNG via MuPDF, preserving
// page order. This is the one place the image batch can grow beyond the
// number of submitted files.
func (s *Service) PDFPages(data []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	pages := make([][]byte, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		img, err := doc.ImagePNG(n, s.dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", n+1, err)
		}
		pages = append(pages, img)
	}

	s.log.WithField("pages", len(pages)).Debug("document rasterized")
	return pages, nil
}

// NormalizeImage re-encodes any decodable image (jpeg, png, webp) as PNG.
// Undecodable bytes pass through unchanged; the extraction service may still
// accept them.
func (s *Service) NormalizeImage(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.log.WithError(err).Debug("image not decodable, passing through raw")
		return data
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return data
	}
	return buf.Bytes()
}
