package epub

import (
	"errors"

	"github.com/beevik/etree"
)

// Container-related errors.
var (
	ErrNoContainer      = errors.New("epub: missing META-INF/container.xml")
	ErrInvalidContainer = errors.New("epub: invalid container.xml")
	ErrNoRootfile       = errors.New("epub: no rootfile found in container.xml")
)

const (
	containerPath   = "META-INF/container.xml"
	packageMimetype = "application/oebps-package+xml"
)

// parseContainer returns the path to the package document (OPF).
func parseContainer(data []byte) (string, error) {
	doc, err := readXML(data)
	if err != nil {
		return "", ErrInvalidContainer
	}

	rootfiles := doc.FindElements("//rootfiles/rootfile")
	for _, rf := range rootfiles {
		mt := rf.SelectAttrValue("media-type", "")
		if fp := rf.SelectAttrValue("full-path", ""); fp != "" && (mt == packageMimetype || mt == "") {
			return fp, nil
		}
	}
	// if no media-type match, just return the first one
	for _, rf := range rootfiles {
		if fp := rf.SelectAttrValue("full-path", ""); fp != "" {
			return fp, nil
		}
	}
	return "", ErrNoRootfile
}

func readXML(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	return doc, nil
}
