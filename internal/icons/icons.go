// Package icons normalizes uploaded server icons to the 64x64 PNG Minecraft expects.
package icons

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // decoders for accepted upload formats
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// Size is the edge length of a server icon in pixels.
const Size = 64

// MaxUploadBytes caps how much of an upload is read.
const MaxUploadBytes = 4 << 20

// Normalize decodes a PNG, JPEG or GIF image and returns it scaled to Size x Size as PNG.
func Normalize(r io.Reader) ([]byte, error) {
	src, format, err := image.Decode(io.LimitReader(r, MaxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode icon: empty %s image", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, Size, Size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return buf.Bytes(), nil
}

// Store writes data to <root>/<serverID>.png via a temporary file and returns the absolute path.
func Store(root, serverID string, data []byte) (string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(root, serverID+".*.partial")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	// The container reads the icon through a read-only bind mount.
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	path := filepath.Join(root, serverID+".png")
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// Remove deletes a server's icon. A missing icon is not an error.
func Remove(root, serverID string) error {
	err := os.Remove(filepath.Join(root, serverID+".png"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
