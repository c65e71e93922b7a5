package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/embedstream/streamcore/internal/config"
	"github.com/embedstream/streamcore/internal/decode"
	"github.com/embedstream/streamcore/internal/demux"
	"github.com/embedstream/streamcore/internal/downloader"
	"github.com/embedstream/streamcore/internal/ffmpeg"
	"github.com/embedstream/streamcore/internal/iobridge"
	"github.com/embedstream/streamcore/pkg/format"
	"github.com/embedstream/streamcore/pkg/httpclient"
)

var (
	probeWholeDownload bool
	probeAudioURL      string
	probeRunFor        time.Duration
)

// probeCmd wires the downloader, demux, and decode driver together against
// a real URL and reports what came out the other end. It exists to exercise
// the pipeline end to end without a player attached.
var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Download, demux, and decode a stream, printing progress and frame counts",
	Long: `probe pulls the given URL through the block-cache downloader, demuxes it
(MPEG-TS carrying both tracks, or a separate video/audio pair when --audio-url
is set), drives decode, and reports how many video frames and audio chunks
came out before --run-for elapses or the stream ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeWholeDownload, "whole-download", false, "fetch the URL as one unranged livestream segment (needs x-head-seqnum/x-sequence-num headers) instead of ranged block fetches")
	probeCmd.Flags().StringVar(&probeAudioURL, "audio-url", "", "separate single-track audio URL; enables separate-mode demuxing")
	probeCmd.Flags().DurationVar(&probeRunFor, "run-for", 10*time.Second, "how long to pull decoded output before exiting")
}

func runProbe(cmd *cobra.Command, args []string) error {
	url := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	sessions := httpclient.NewRegistry()
	for name, hc := range cfg.HTTPClients {
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = hc.Timeout.Duration()
		httpCfg.RetryAttempts = hc.RetryAttempts
		httpCfg.RetryDelay = hc.RetryDelay.Duration()
		if hc.UserAgent != "" {
			httpCfg.UserAgent = hc.UserAgent
		}
		httpCfg.Logger = logger
		sessions.Register(name, httpclient.New(httpCfg))
	}

	dl := downloader.New(downloader.Config{
		BlockSize:            cfg.Downloader.BlockSize.Bytes(),
		MaxCacheBlocks:       cfg.Downloader.MaxCacheBlocks,
		MaxForwardReadBlocks: cfg.Downloader.MaxForwardReadBlocks,
		Sessions:             sessions,
		DefaultSessionName:   cfg.Downloader.DefaultSessionName,
		Logger:               logger,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), probeRunFor)
	defer cancel()

	dl.Start(ctx)
	defer dl.Stop()

	bridgeOpts := []iobridge.Option{
		iobridge.WithPollInterval(cfg.IOBridge.PollInterval.Duration()),
		iobridge.WithLogger(logger),
	}

	videoStream, _ := dl.NewStream(url, probeWholeDownload)
	videoBridge := iobridge.New(videoStream, bridgeOpts...)

	var session *demux.Session
	if probeAudioURL != "" {
		audioStream, _ := dl.NewStream(probeAudioURL, probeWholeDownload)
		audioBridge := iobridge.New(audioStream, bridgeOpts...)
		session, err = demux.NewSeparate(ctx, videoBridge, audioBridge, logger)
	} else {
		session, err = demux.NewCombined(ctx, videoBridge, logger)
	}
	if err != nil {
		return fmt.Errorf("opening demux session: %w", err)
	}

	ffinfo, err := ffmpeg.Detect(ctx, cfg.Decode.FFmpeg.BinaryPath)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("detected ffmpeg", "path", ffinfo.FFmpegPath, "version", ffinfo.Version, "hwaccels", len(ffinfo.HWAccels))

	sps, pps := session.SPSPPS()
	width, height := session.VideoDimensions()
	driver, err := decode.NewDriver(decode.Config{
		FFmpegPath:       ffinfo.FFmpegPath,
		VideoWidth:       width,
		VideoHeight:      height,
		NALLengthSize:    cfg.Decode.NALLengthSize,
		SPS:              sps,
		PPS:              pps,
		UseHardware:      cfg.Decode.UseHardware,
		HWAccelType:      cfg.Decode.HWAccelType,
		Capabilities:     decode.Capabilities{SoftwareAvailable: true, HWAccels: ffinfo.HWAccels},
		AudioCodecFormat: session.AudioFormat(),
		AudioRate:        session.AudioSampleRate(),
		AudioChannels:    session.AudioChannels(),
		OutputRate:       cfg.Decode.OutputRate,
		OutputChannels:   cfg.Decode.OutputChannels,
		Logger:           logger,
	}, session)
	if err != nil {
		return fmt.Errorf("starting decode driver: %w", err)
	}
	defer driver.Close()

	videoFrames, audioChunks := drainDriver(ctx, driver)

	logger.Info("probe finished",
		"url", url,
		"audio_only", session.AudioOnly(),
		"video_frames", format.Number(int64(videoFrames)),
		"audio_chunks", format.Number(int64(audioChunks)),
		"total_downloaded", format.Bytes(int64(dl.Bandwidth().TotalBytes())),
		"current_bps", format.Bytes(int64(dl.Bandwidth().CurrentBps())),
	)
	return nil
}

// drainDriver pulls decoded video frames and audio chunks off the driver
// concurrently until ctx is done or both outputs have closed.
func drainDriver(ctx context.Context, driver *decode.Driver) (videoFrames, audioChunks int) {
	videoDone := false
	audioResults := driver.AudioResults()
	audioDone := audioResults == nil

	for !videoDone || !audioDone {
		select {
		case <-ctx.Done():
			return videoFrames, audioChunks
		default:
		}

		if !videoDone {
			frame, err := driver.GetDecodedVideoFrame(ctx)
			switch {
			case err == nil:
				videoFrames++
				slog.Default().Debug("decoded video frame", "pts", frame.PTS, "width", frame.Width, "height", frame.Height)
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, decode.ErrDriverClosed):
				videoDone = true
			default:
				slog.Default().Warn("video decode stopped", "error", err)
				videoDone = true
			}
		}

		if !audioDone {
			select {
			case _, ok := <-audioResults:
				if !ok {
					audioDone = true
				} else {
					audioChunks++
				}
			default:
			}
		}
	}
	return videoFrames, audioChunks
}
