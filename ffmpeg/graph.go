package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// MaxDurationSeconds caps every output at 2 hours.
	MaxDurationSeconds = 7200.0

	// XfadeDuration is the fixed crossfade transition length for merges.
	XfadeDuration = 0.5
)

// Clip describes one probed input file in timeline order.
type Clip struct {
	Path     string
	Duration float64
	HasAudio bool
}

// Dimensions is a target output size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

var dimensionTable = map[[2]string]Dimensions{
	{"720", "16:9"}:  {1280, 720},
	{"720", "9:16"}:  {720, 1280},
	{"720", "1:1"}:   {720, 720},
	{"1080", "16:9"}: {1920, 1080},
	{"1080", "9:16"}: {1080, 1920},
	{"1080", "1:1"}:  {1080, 1080},
}

// LookupDimensions resolves a (quality, aspect ratio) pair to pixel dimensions.
// The table is a closed enumeration; anything else is a configuration error.
func LookupDimensions(quality, aspectRatio string) (Dimensions, error) {
	d, ok := dimensionTable[[2]string{quality, aspectRatio}]
	if !ok {
		return Dimensions{}, fmt.Errorf("unsupported quality/aspect_ratio: %s / %s", quality, aspectRatio)
	}
	return d, nil
}

// ff formats a float the way ffmpeg expects: no exponent, no trailing zeros.
func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// scalePad fits a frame inside w x h preserving aspect ratio, letterboxing or
// pillarboxing the remainder, and normalizes the pixel aspect.
func scalePad(d Dimensions) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		d.Width, d.Height, d.Width, d.Height)
}

// LoopCount returns how many whole repetitions of the background track are
// needed to cover finalDuration. The +1 over-provisions by design; the output
// is hard-truncated to finalDuration, so correctness rests on the truncation.
func LoopCount(finalDuration, totalBackground float64) int {
	return int(math.Floor(finalDuration/totalBackground)) + 1
}

// xfadeOffset returns the start offset of the fade that blends clip i into the
// composite of clips 0..i-1.
func xfadeOffset(durations []float64, i int, transition float64) float64 {
	var sum float64
	for _, d := range durations[:i] {
		sum += d
	}
	return sum - float64(i)*transition
}

// BuildMergeGraph constructs the command that crossfades N clips into a single
// output of duration sum(durations) - (N-1)*transition.
//
// Video: each clip is scaled/padded to dims, then folded pairwise with xfade.
// Audio: each clip contributes its own audio, or a slice of a single shared
// silent source when it has none, normalized to fltp/44100/stereo and folded
// with acrossfade on a triangular curve so the audio fades track the video.
func BuildMergeGraph(clips []Clip, dims Dimensions, encoderArgs []string, outputPath string) (Command, error) {
	n := len(clips)
	if n < 2 {
		return Command{}, fmt.Errorf("at least 2 clips required, got %d", n)
	}

	needSilence := false
	for _, c := range clips {
		if !c.HasAudio {
			needSilence = true
			break
		}
	}
	silenceIdx := n

	cmd := Command{OutputPath: outputPath}
	for _, c := range clips {
		cmd.Inputs = append(cmd.Inputs, Input{Path: c.Path})
	}
	if needSilence {
		cmd.Inputs = append(cmd.Inputs, Input{
			Options: []string{"-f", "lavfi"},
			Path:    "anullsrc=r=44100:cl=stereo",
		})
	}

	durations := make([]float64, n)
	for i, c := range clips {
		durations[i] = c.Duration
	}

	// Normalize each clip's frame.
	for i := range clips {
		cmd.Filters = append(cmd.Filters, Filter{
			Inputs:  []string{fmt.Sprintf("%d:v", i)},
			Expr:    scalePad(dims),
			Outputs: []string{fmt.Sprintf("v%d", i)},
		})
	}

	// Sequential xfade fold: each fade consumes the prior composite.
	prev := "v0"
	for i := 1; i < n; i++ {
		out := fmt.Sprintf("vx%d", i)
		cmd.Filters = append(cmd.Filters, Filter{
			Inputs: []string{prev, fmt.Sprintf("v%d", i)},
			Expr: fmt.Sprintf("xfade=transition=fade:duration=%s:offset=%s",
				ff(XfadeDuration), ff(xfadeOffset(durations, i, XfadeDuration))),
			Outputs: []string{out},
		})
		prev = out
	}
	lastVideo := prev

	// Per-clip audio: real stream normalized, or the silent source trimmed to
	// the clip's duration.
	for i, c := range clips {
		var in, expr string
		if c.HasAudio {
			in = fmt.Sprintf("%d:a", i)
			expr = fmt.Sprintf(
				"aformat=sample_fmts=fltp:sample_rates=44100:channel_layouts=stereo,atrim=0:%s,asetpts=PTS-STARTPTS",
				ff(c.Duration))
		} else {
			in = fmt.Sprintf("%d:a", silenceIdx)
			expr = fmt.Sprintf("atrim=0:%s,asetpts=PTS-STARTPTS", ff(c.Duration))
		}
		cmd.Filters = append(cmd.Filters, Filter{
			Inputs:  []string{in},
			Expr:    expr,
			Outputs: []string{fmt.Sprintf("a%d", i)},
		})
	}

	prev = "a0"
	for i := 1; i < n; i++ {
		out := fmt.Sprintf("ax%d", i)
		cmd.Filters = append(cmd.Filters, Filter{
			Inputs:  []string{prev, fmt.Sprintf("a%d", i)},
			Expr:    fmt.Sprintf("acrossfade=d=%s:c1=tri:c2=tri", ff(XfadeDuration)),
			Outputs: []string{out},
		})
		prev = out
	}
	lastAudio := prev

	cmd.Filters = append(cmd.Filters, Filter{
		Inputs:  []string{lastVideo, lastAudio},
		Expr:    "concat=n=1:v=1:a=1",
		Outputs: []string{"outv", "outa"},
	})

	cmd.Maps = []string{"[outv]", "[outa]"}
	cmd.OutputArgs = encoderArgs

	var total float64
	for _, d := range durations {
		total += d
	}
	cmd.Duration = total - float64(n-1)*XfadeDuration

	return cmd, nil
}

// BuildSlideshowGraph constructs the longform command for image backgrounds:
// each of the M images is shown for audioDuration/M seconds, scaled/padded and
// normalized to 30fps, concatenated in order, and muxed against the combined
// audio track. Output is truncated to min(audioDuration, MaxDurationSeconds).
func BuildSlideshowGraph(imagePaths []string, audioPath string, dims Dimensions, audioDuration float64, encoderArgs []string, outputPath string) (Command, error) {
	m := len(imagePaths)
	if m < 1 {
		return Command{}, fmt.Errorf("at least 1 image required")
	}

	perImage := audioDuration / float64(m)
	finalDuration := math.Min(audioDuration, MaxDurationSeconds)

	cmd := Command{OutputPath: outputPath, Duration: finalDuration}
	for _, p := range imagePaths {
		cmd.Inputs = append(cmd.Inputs, Input{
			Options: []string{"-loop", "1", "-t", ff(perImage)},
			Path:    p,
		})
	}
	audioIdx := m
	cmd.Inputs = append(cmd.Inputs, Input{Path: audioPath})

	concatIn := make([]string, m)
	for i := range imagePaths {
		cmd.Filters = append(cmd.Filters, Filter{
			Inputs:  []string{fmt.Sprintf("%d:v", i)},
			Expr:    scalePad(dims) + ",fps=30",
			Outputs: []string{fmt.Sprintf("v%d", i)},
		})
		concatIn[i] = fmt.Sprintf("v%d", i)
	}
	cmd.Filters = append(cmd.Filters, Filter{
		Inputs:  concatIn,
		Expr:    fmt.Sprintf("concat=n=%d:v=1:a=0", m),
		Outputs: []string{"v"},
	})

	cmd.Maps = []string{"[v]", fmt.Sprintf("%d:a", audioIdx)}
	cmd.OutputArgs = append(append([]string{}, encoderArgs...), "-t", ff(finalDuration), "-shortest")

	return cmd, nil
}

// BuildVideoLoopGraph constructs the longform command for video backgrounds:
// the K probed background videos are scaled/padded, concatenated once into a
// single track, looped enough whole times to cover the final duration, muted
// (their audio is never mapped), and muxed against the combined audio track.
// Output is truncated to min(audioDuration, MaxDurationSeconds).
func BuildVideoLoopGraph(videos []Clip, audioPath string, dims Dimensions, audioDuration float64, encoderArgs []string, outputPath string) (Command, error) {
	k := len(videos)
	if k < 1 {
		return Command{}, fmt.Errorf("at least 1 background video required")
	}

	var totalBg float64
	for _, v := range videos {
		totalBg += v.Duration
	}
	if totalBg <= 0 {
		return Command{}, fmt.Errorf("background videos have zero total duration")
	}

	finalDuration := math.Min(audioDuration, MaxDurationSeconds)
	loops := LoopCount(finalDuration, totalBg)

	cmd := Command{OutputPath: outputPath, Duration: finalDuration}
	for _, v := range videos {
		cmd.Inputs = append(cmd.Inputs, Input{Path: v.Path})
	}
	audioIdx := k
	cmd.Inputs = append(cmd.Inputs, Input{Path: audioPath})

	concatIn := make([]string, k)
	for i := range videos {
		cmd.Filters = append(cmd.Filters, Filter{
			Inputs:  []string{fmt.Sprintf("%d:v", i)},
			Expr:    scalePad(dims) + ",fps=30",
			Outputs: []string{fmt.Sprintf("v%d", i)},
		})
		concatIn[i] = fmt.Sprintf("v%d", i)
	}
	cmd.Filters = append(cmd.Filters, Filter{
		Inputs:  concatIn,
		Expr:    fmt.Sprintf("concat=n=%d:v=1:a=0", k),
		Outputs: []string{"vbg"},
	})
	cmd.Filters = append(cmd.Filters, Filter{
		Inputs:  []string{"vbg"},
		Expr:    fmt.Sprintf("loop=loop=%d:size=32767:start=0", loops),
		Outputs: []string{"vloop"},
	})

	cmd.Maps = []string{"[vloop]", fmt.Sprintf("%d:a", audioIdx)}
	cmd.OutputArgs = append(append([]string{}, encoderArgs...), "-t", ff(finalDuration))

	return cmd, nil
}

// BuildAudioConcat constructs a concat-demuxer command that joins the audio
// files listed in listPath without re-encoding. The caller probes the result
// for the authoritative combined duration.
func BuildAudioConcat(listPath, outputPath string) Command {
	return Command{
		Inputs: []Input{{
			Options: []string{"-f", "concat", "-safe", "0"},
			Path:    listPath,
		}},
		OutputArgs: []string{"-c", "copy"},
		OutputPath: outputPath,
	}
}
