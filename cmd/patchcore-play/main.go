package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"patchcore"
	"patchcore/engine"
	"patchcore/midi"
	"patchcore/oto"
	"patchcore/portaudio"
	"patchcore/rack"
	"patchcore/version"
)

func main() {
	play := flag.Bool("p", false, "Play the patch live (default behaviour when no other output is defined).")
	rawOut := flag.Bool("r", false, "Render the patch and save a .raw stereo float32 file.")
	wavOut := flag.Bool("w", false, "Render the patch and save a .wav file.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	stdout := flag.Bool("s", false, "Do not write files; write to standard output instead.")
	directory := flag.String("o", "", "Directory where to output all files. Created if needed. By default, the working directory.")
	sampleRate := flag.Int("sr", 44100, "Sample rate, in Hz.")
	blockSize := flag.Int("bs", 512, "Render block size, in frames.")
	voices := flag.Int("voices", 8, "Number of polyphony voices.")
	duration := flag.Float64("d", 2, "Length of the offline render, in seconds.")
	note := flag.Int("n", 60, "MIDI note the offline render plays.")
	midiPrefix := flag.String("midi", "", "Open the first MIDI input device whose name starts with the given prefix.")
	midiFirst := flag.Bool("f", false, "Open the first available MIDI input device.")
	usePortaudio := flag.Bool("portaudio", false, "Use the portaudio backend instead of the default one.")
	versionFlag := flag.Bool("v", false, "Print version.")
	help := flag.Bool("h", false, "Show help.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*rawOut && !*wavOut {
		*play = true
	}
	retval := 0
	for _, param := range flag.Args() {
		patch, err := readPatch(param)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not read patch %v: %v\n", param, err)
			retval = 1
			continue
		}
		broker := rack.NewBroker()
		rck := rack.New()
		eng := engine.New(broker, rck, *voices, patchcore.RenderContext{SampleRate: *sampleRate, BlockSize: *blockSize})
		if _, err := engine.LoadPatch(rck, broker, patch); err != nil {
			fmt.Fprintf(os.Stderr, "could not load patch %v: %v\n", param, err)
			retval = 1
			continue
		}
		if *rawOut || *wavOut {
			if err := render(eng, param, *stdout, *directory, *rawOut, *wavOut, *pcm, *duration, byte(*note)); err != nil {
				fmt.Fprintf(os.Stderr, "could not render %v: %v\n", param, err)
				retval = 1
			}
			continue
		}
		midiContext := midi.NewContext(broker, *sampleRate)
		midiContext.TryToOpenBy(*midiPrefix, *midiFirst)
		if err := playLive(eng, broker, *usePortaudio, *sampleRate, *blockSize); err != nil {
			fmt.Fprintf(os.Stderr, "could not play %v: %v\n", param, err)
			retval = 1
		}
		midiContext.Close()
	}
	os.Exit(retval)
}

func readPatch(filename string) (patchcore.Patch, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return patchcore.Patch{}, err
	}
	return patchcore.ParsePatch(data)
}

// render plays a single note through the patch offline: note on at the
// start, note off at three quarters of the duration so the release tail is
// audible in the file.
func render(eng *engine.Engine, filename string, stdout bool, directory string, rawOut, wavOut, pcm bool, duration float64, note byte) error {
	frames := int(duration * float64(eng.Context().SampleRate))
	if frames < 1 {
		frames = 1
	}
	buffer := make(patchcore.AudioBuffer, frames)
	events := []patchcore.NoteEvent{
		{Frame: 0, On: true, Note: note, Velocity: 1, Channel: 1},
		{Frame: frames * 3 / 4, Note: note, Channel: 1},
	}
	if err := eng.Process(buffer, events); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	output := func(extension string, contents []byte) error {
		if stdout {
			_, err := os.Stdout.Write(contents)
			return err
		}
		_, name := filepath.Split(filename)
		dir := directory
		if dir == "" {
			var err error
			dir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("could not get working directory, specify the output directory explicitly: %w", err)
			}
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("could not create output directory %v: %w", dir, err)
		}
		f := filepath.Join(dir, name)
		if err := os.WriteFile(f, contents, 0644); err != nil {
			return fmt.Errorf("could not write file %v: %w", f, err)
		}
		return nil
	}
	if rawOut {
		raw, err := buffer.Raw(pcm)
		if err != nil {
			return fmt.Errorf("could not generate .raw file: %w", err)
		}
		if err := output(".raw", raw); err != nil {
			return fmt.Errorf("error outputting .raw file: %w", err)
		}
	}
	if wavOut {
		wav, err := buffer.Wav(eng.Context().SampleRate, pcm)
		if err != nil {
			return fmt.Errorf("could not generate .wav file: %w", err)
		}
		if err := output(".wav", wav); err != nil {
			return fmt.Errorf("error outputting .wav file: %w", err)
		}
	}
	return nil
}

func playLive(eng *engine.Engine, broker *rack.Broker, usePortaudio bool, sampleRate, blockSize int) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	if usePortaudio {
		ctx, err := portaudio.NewContext(sampleRate, blockSize)
		if err != nil {
			return err
		}
		defer ctx.Close()
		stream, err := ctx.Play(func(buffer patchcore.AudioBuffer) error {
			return eng.Process(buffer, nil)
		})
		if err != nil {
			return err
		}
		<-interrupt
		return stream.Close()
	}
	ctx, err := oto.NewContext(sampleRate)
	if err != nil {
		return err
	}
	defer ctx.Close()
	player := ctx.Play(eng.Reader())
	<-interrupt
	broker.CloseEngine <- struct{}{}
	<-broker.FinishedEngine
	return player.Close()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Command line utility for playing .yml patch files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
