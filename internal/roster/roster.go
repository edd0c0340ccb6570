// Package roster builds the character list for a movie, with portrait image URLs.
package roster

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/cinetalk/internal/models"
)

// ImagePrefix is the URL prefix under which the data root is served.
const ImagePrefix = "/images"

// imageExts are tried in order when a character has no override.
var imageExts = []string{".jpg", ".png", ".jpeg"}

// Resolver finds portrait images inside movie folders.
type Resolver struct {
	root      string
	overrides map[string]string
}

// NewResolver creates a resolver for movie folders under root. overrides maps a character
// name to an image file name in the movie folder and is checked before probing.
func NewResolver(root string, overrides map[string]string) *Resolver {
	return &Resolver{root: root, overrides: overrides}
}

// Image returns the URL of the character's image, or "" when none exists.
func (r *Resolver) Image(movieID, name string) string {
	if !safeSegment(movieID) || !safeSegment(name) {
		return ""
	}
	if file, ok := r.overrides[name]; ok && safeSegment(file) && r.exists(movieID, file) {
		return imageURL(movieID, file)
	}
	for _, ext := range imageExts {
		if file := name + ext; r.exists(movieID, file) {
			return imageURL(movieID, file)
		}
	}
	return ""
}

// Characters returns the corpus's top characters with their images. A nil corpus yields
// an empty, non-nil list.
func (r *Resolver) Characters(c *models.Corpus) []models.Character {
	out := []models.Character{}
	if c == nil {
		return out
	}
	for _, name := range c.TopCharacters {
		out = append(out, models.Character{Name: name, Image: r.Image(c.MovieID, name)})
	}
	return out
}

func (r *Resolver) exists(movieID, file string) bool {
	info, err := os.Stat(filepath.Join(r.root, movieID, file))
	return err == nil && info.Mode().IsRegular()
}

func imageURL(movieID, file string) string {
	return ImagePrefix + "/" + url.PathEscape(movieID) + "/" + url.PathEscape(file)
}

// safeSegment rejects empty names and names that would leave the movie folder.
func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
