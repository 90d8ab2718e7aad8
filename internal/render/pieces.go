package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece glyphs as path data in a 45x45 viewbox. Deliberately simple
// silhouettes; fill and stroke come from the piece color.
var pieceGlyphs = map[nchess.PieceType]string{
	nchess.Pawn:   "M 22.5,10 A 5,5 0 1 1 22.4,10 Z M 17,20 L 28,20 L 31,36 L 14,36 Z M 11,36 L 34,36 L 34,40 L 11,40 Z",
	nchess.Rook:   "M 11,10 L 15,10 L 15,14 L 19,14 L 19,10 L 26,10 L 26,14 L 30,14 L 30,10 L 34,10 L 34,18 L 31,21 L 31,33 L 34,36 L 34,40 L 11,40 L 11,36 L 14,33 L 14,21 L 11,18 Z",
	nchess.Knight: "M 14,40 L 14,36 L 18,32 L 16,28 L 12,26 L 14,20 L 20,12 L 24,8 L 26,12 L 31,15 L 34,22 L 34,40 Z",
	nchess.Bishop: "M 22.5,7 A 3,3 0 1 1 22.4,7 Z M 22.5,13 C 28,17 31,22 29,29 L 16,29 C 14,22 17,17 22.5,13 Z M 14,33 L 31,33 L 33,38 L 12,38 Z",
	nchess.Queen:  "M 10,14 L 15,26 L 18,12 L 22.5,24 L 27,12 L 30,26 L 35,14 L 33,34 L 12,34 Z M 12,36 L 33,36 L 33,40 L 12,40 Z",
	nchess.King:   "M 21,6 L 24,6 L 24,9 L 27,9 L 27,12 L 24,12 L 24,15 L 21,15 L 21,12 L 18,12 L 18,9 L 21,9 Z M 15,17 L 30,17 L 33,34 L 12,34 Z M 12,36 L 33,36 L 33,40 L 12,40 Z",
}

func pieceSVG(piece nchess.Piece) string {
	fill, stroke := "#f5f5f0", "#1b1b1b"
	if piece.Color() == nchess.Black {
		fill, stroke = "#2d2d2d", "#e8e8e8"
	}
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45"><path d="%s" fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round"/></svg>`,
		pieceGlyphs[piece.Type()], fill, stroke,
	)
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(pieceSVG(piece))))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}
