package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

// Options controls one board render. Orientation is the color sitting at
// the bottom edge; NoColor defaults to white.
type Options struct {
	Orientation nchess.Color
	Highlight   *MoveHighlight
	Header      string
	Turn        string
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error)
}

type pngBoardRenderer struct{}

func NewBoardRenderer() BoardRenderer { return &pngBoardRenderer{} }

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundFill = color.RGBA{24, 26, 34, 255}
	labelColor     = color.NRGBA{R: 214, G: 218, B: 234, A: 255}
	headerColor    = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
)

func (r *pngBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}

	const (
		squareSize   = 64
		boardSquares = 8
		boardSize    = squareSize * boardSquares
		leftMargin   = 28
		rightMargin  = 12
		topMargin    = 56
		bottomMargin = 26
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	orientation := opts.Orientation
	if orientation != nchess.Black {
		orientation = nchess.White
	}

	totalWidth := boardSize + leftMargin + rightMargin
	totalHeight := boardSize + topMargin + bottomMargin
	origin := image.Point{X: leftMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	drawSquares(img, orientation, squareSize, origin)
	if err := drawPieces(img, board, orientation, squareSize, origin); err != nil {
		return nil, err
	}
	if opts.Highlight != nil {
		drawSquareOverlay(img, opts.Highlight.From, orientation, squareSize, origin, highlightFill)
		drawSquareOverlay(img, opts.Highlight.To, orientation, squareSize, origin, highlightFill)
	}
	drawCoordinates(img, orientation, squareSize, origin)
	drawHeader(img, opts, totalWidth)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// orderedRanks lists ranks top to bottom for the given orientation.
func orderedRanks(orientation nchess.Color) []nchess.Rank {
	ranks := []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	if orientation == nchess.Black {
		ranks = []nchess.Rank{nchess.Rank1, nchess.Rank2, nchess.Rank3, nchess.Rank4, nchess.Rank5, nchess.Rank6, nchess.Rank7, nchess.Rank8}
	}
	return ranks
}

// orderedFiles lists files left to right for the given orientation.
func orderedFiles(orientation nchess.Color) []nchess.File {
	files := []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
	if orientation == nchess.Black {
		files = []nchess.File{nchess.FileH, nchess.FileG, nchess.FileF, nchess.FileE, nchess.FileD, nchess.FileC, nchess.FileB, nchess.FileA}
	}
	return files
}

func drawSquares(dst imagedraw.Image, orientation nchess.Color, squareSize int, origin image.Point) {
	for row, rank := range orderedRanks(orientation) {
		for col, file := range orderedFiles(orientation) {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			sq := nchess.NewSquare(file, rank)
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, orientation nchess.Color, squareSize int, origin image.Point) error {
	boardMap := board.SquareMap()
	for row, rank := range orderedRanks(orientation) {
		for col, file := range orderedFiles(orientation) {
			sq := nchess.NewSquare(file, rank)
			piece := boardMap[sq]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := renderPieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawSquareOverlay(img *image.RGBA, sq nchess.Square, orientation nchess.Color, squareSize int, origin image.Point, clr color.Color) {
	rect := squareRect(sq, orientation, squareSize, origin)
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func squareRect(sq nchess.Square, orientation nchess.Color, squareSize int, origin image.Point) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if orientation == nchess.Black {
		col = 7 - col
		row = 7 - row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawCoordinates(img *image.RGBA, orientation nchess.Color, squareSize int, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(labelColor),
	}
	ranks := orderedRanks(orientation)
	files := orderedFiles(orientation)
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()

	for row, rank := range ranks {
		baseline := origin.Y + row*squareSize + squareSize/2 + ascent/2
		drawCenteredText(drawer, rank.String(), origin.X-14, baseline)
	}
	bottom := origin.Y + len(ranks)*squareSize
	for col, file := range files {
		centerX := origin.X + col*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), centerX, bottom+ascent+4)
	}
}

func drawHeader(img *image.RGBA, opts Options, totalWidth int) {
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(headerColor),
	}
	header := strings.TrimSpace(opts.Header)
	if header != "" {
		drawer.Dot = fixed.P(12, 20)
		drawer.DrawString(header)
	}
	turn := strings.TrimSpace(opts.Turn)
	if turn != "" {
		width := drawer.MeasureString(turn).Round()
		x := totalWidth - width - 12
		if x < 12 {
			x = 12
		}
		drawer.Dot = fixed.P(x, 40)
		drawer.DrawString(turn)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
