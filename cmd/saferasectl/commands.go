package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"saferase/internal/algorithms"
	"saferase/internal/certificate"
	"saferase/internal/certschema"
	"saferase/internal/certverify"
	"saferase/internal/config"
	"saferase/internal/deviceport"
	"saferase/internal/errs"
	"saferase/internal/health"
	"saferase/internal/ledger"
	"saferase/internal/logging"
	"saferase/internal/metrics"
	"saferase/internal/qrcode"
	"saferase/internal/signer"
	"saferase/internal/tpm"
	"saferase/internal/trustwatch"
	"saferase/internal/verification"
	"saferase/internal/wipe"
)

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(fmt.Sprintf("loading config: %v", err))
		os.Exit(exitInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("invalid config: %v", err))
		os.Exit(exitInvalidConfig)
	}
	return cfg
}

// initLogging points the package-default structured logger at cfg's log
// path and format, so every command after this call shares one logger.
func initLogging(cfg *config.Config) *logging.Logger {
	lcfg := logging.DefaultConfig()
	lcfg.Output = "both"
	lcfg.FilePath = cfg.LogPath
	lcfg.Component = "saferasectl"
	if cfg.LogFormat == "json" {
		lcfg.Format = logging.FormatJSON
	}
	l, err := logging.New(lcfg)
	if err != nil {
		return logging.Default()
	}
	logging.SetDefault(l)
	return l
}

// initAudit points the package-default audit logger at cfg's audit log
// path, creating the append-only JSON-lines sink commands log security
// events to.
func initAudit(cfg *config.Config) *logging.AuditLogger {
	acfg := logging.DefaultAuditConfig()
	acfg.FilePath = cfg.AuditLogPath
	acfg.Component = "saferasectl"
	a, err := logging.NewAuditLogger(acfg)
	if err != nil {
		return logging.DefaultAuditLogger()
	}
	logging.SetDefaultAuditLogger(a)
	return a
}

// sealPrivateKey wraps privPEM behind the platform's TPM or Secure
// Enclave when one is available, falling back to the software
// simulator so keygen always produces a sealed escrow copy. It returns
// the sealed bytes and a human-readable description of which provider
// did the sealing. The plaintext key written alongside it remains the
// key saferasectl actually signs with; the sealed copy is a
// defense-in-depth escrow artifact an operator can move to cold
// storage.
func sealPrivateKey(privPEM []byte) (sealed []byte, providerKind string, err error) {
	// Open isn't part of the Provider interface (NoOpProvider is usable
	// without it), so providers that need it are asserted separately.
	type opener interface {
		Open() error
	}

	provider := tpm.DetectTPM()
	if sealer, ok := provider.(tpm.Sealer); ok {
		if o, ok := provider.(opener); ok {
			if err := o.Open(); err != nil {
				return nil, "", fmt.Errorf("opening TPM: %w", err)
			}
		}
		defer provider.Close()
		sealed, err = sealer.SealKey(privPEM, tpm.DefaultPCRSelection())
		if err != nil {
			return nil, "", err
		}
		return sealed, fmt.Sprintf("%s %s", provider.Manufacturer(), provider.FirmwareVersion()), nil
	}

	sw := tpm.NewSoftwareProvider()
	if err := sw.Open(); err != nil {
		return nil, "", fmt.Errorf("opening software TPM simulator: %w", err)
	}
	defer sw.Close()
	sealed, err = sw.SealKey(privPEM, tpm.DefaultPCRSelection())
	if err != nil {
		return nil, "", err
	}
	return sealed, "software simulator (no hardware TPM/Secure Enclave detected)", nil
}

// openDevice opens devicePath for wiping/verification, classifying common
// failures into saferasectl's exit codes.
func openDevice(devicePath string) (deviceport.Port, int) {
	port, err := deviceport.OpenLinuxFile(devicePath)
	if err != nil {
		if errors.Is(err, errs.ErrDeviceNotFound) {
			printError(fmt.Sprintf("device not found: %s", devicePath))
			return nil, exitDeviceNotFound
		}
		if errors.Is(err, errs.ErrDeviceAccessDenied) || errors.Is(err, errs.ErrInsufficientPrivs) {
			printError(fmt.Sprintf("insufficient privileges to open %s: %v", devicePath, err))
			return nil, exitInsufficientPriv
		}
		printError(fmt.Sprintf("opening device: %v", err))
		return nil, exitGenericFailure
	}
	return port, exitSuccess
}

func cmdWipe(devicePath string, args []string) int {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	algoName := fs.String("algorithm", "", "wipe algorithm (default: config default_algorithm)")
	noVerify := fs.Bool("no-verify", false, "skip post-wipe verification")
	noHPADCO := fs.Bool("no-hpa-dco", false, "skip HPA/DCO detection and clearing")
	allowSystemDisk := fs.Bool("allow-system-disk", false, "permit wiping the disk this host is running from")
	outPath := fs.String("out", "", "path to write the signed certificate (default: stdout)")
	fs.Parse(args)

	cfg := loadConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		printError(fmt.Sprintf("preparing directories: %v", err))
		return exitInvalidConfig
	}
	log := initLogging(cfg)
	audit := initAudit(cfg)
	sessionID := uuid.NewString()
	audit.SetSessionID(sessionID)
	audit.LogSessionStart(context.Background(), sessionID, map[string]interface{}{
		"command": "wipe",
		"device":  devicePath,
	})
	defer audit.LogSessionEnd(context.Background(), nil)

	name := *algoName
	if name == "" {
		name = cfg.DefaultAlgorithm
	}
	algo, err := algorithms.Parse(name)
	if err != nil {
		printError(err.Error())
		return exitInvalidConfig
	}

	port, code := openDevice(devicePath)
	if port == nil {
		return code
	}
	defer port.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			printError("interrupt received, cancelling wipe")
			cancel()
		}
	}()
	defer signal.Stop(sigCh)

	desc, err := port.Descriptor(ctx)
	if err != nil {
		printError(fmt.Sprintf("reading device descriptor: %v", err))
		return exitGenericFailure
	}
	if desc.IsSystemDisk && !*allowSystemDisk {
		printError(fmt.Sprintf("%s looks like the system disk; pass -allow-system-disk to proceed anyway", devicePath))
		return exitGenericFailure
	}

	log.Info("wipe starting", "device", devicePath, "algorithm", algo.String(), "size", desc.Size)
	audit.Log(ctx, logging.AuditEvent{
		EventType: logging.AuditEventWipeStarted,
		Action:    "wipe_started",
		Resource:  devicePath,
		Result:    "success",
		Details: map[string]interface{}{
			"algorithm":   algo.String(),
			"device_size": desc.Size,
		},
	})

	m := metrics.GetMetrics()
	m.SetDeviceSize(int64(desc.Size))
	m.RecordOperationStarted()
	defer m.RecordOperationFinished()

	progressCh := make(chan wipe.Progress, 8)
	opts := wipe.DefaultOptions()
	opts.VerifyWipe = !*noVerify
	opts.ClearHPADCO = !*noHPADCO
	opts.AllowSystemDisk = *allowSystemDisk
	opts.Progress = progressCh
	if cfg.BlockSize > 0 {
		opts.BlockSize = cfg.BlockSize
	}
	opts.ProgressInterval = time.Duration(cfg.ProgressIntervalMs) * time.Millisecond

	bar := progressbar.DefaultBytes(int64(desc.Size), fmt.Sprintf("wiping %s", devicePath))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressCh {
			bar.Describe(fmt.Sprintf("pass %d/%d %s", p.CurrentPass, p.TotalPasses, p.CurrentPattern))
			bar.Set64(int64(p.BytesProcessed))
		}
	}()

	engine := wipe.NewEngine(verification.NewEngine())
	result, wipeErr := engine.WipeDevice(ctx, port, algo, opts)
	close(progressCh)
	<-done
	bar.Finish()

	if wipeErr != nil {
		m.RecordError()
		log.Error("wipe failed", "device", devicePath, "error", wipeErr)
		audit.Log(ctx, logging.AuditEvent{
			EventType: logging.AuditEventError,
			Action:    "wipe_failed",
			Resource:  devicePath,
			Result:    "failure",
			Error:     wipeErr.Error(),
		})
		printError(fmt.Sprintf("wipe failed: %v", wipeErr))
		return exitGenericFailure
	}
	if result.Status != wipe.StatusCompleted {
		m.RecordError()
		log.Error("wipe ended abnormally", "device", devicePath, "status", result.Status.String())
		audit.Log(ctx, logging.AuditEvent{
			EventType: logging.AuditEventError,
			Action:    "wipe_" + result.Status.String(),
			Resource:  devicePath,
			Result:    "failure",
			Error:     result.ErrorMessage,
		})
		printError(fmt.Sprintf("wipe ended with status %s: %s", result.Status, result.ErrorMessage))
		if result.VerificationRequested && result.VerificationPassed != nil && !*result.VerificationPassed {
			return exitVerificationFailed
		}
		return exitGenericFailure
	}

	if result.Duration != nil {
		m.RecordPass(int64(result.BytesWiped), *result.Duration)
	}
	for i := 0; i < result.PassesCompleted-1; i++ {
		m.PassesCompletedTotal.Inc()
	}
	audit.Log(ctx, logging.AuditEvent{
		EventType: logging.AuditEventPassCompleted,
		Action:    "wipe_completed",
		Resource:  devicePath,
		Result:    "success",
		Details: map[string]interface{}{
			"passes_completed": result.PassesCompleted,
			"bytes_wiped":      result.BytesWiped,
		},
	})
	if result.HPACleared || result.DCOCleared {
		m.RecordHPADCOCleared()
		audit.Log(ctx, logging.AuditEvent{
			EventType: logging.AuditEventHPADCOCleared,
			Action:    "hpa_dco_cleared",
			Resource:  devicePath,
			Result:    "success",
			Details: map[string]interface{}{
				"hpa_cleared": result.HPACleared,
				"dco_cleared": result.DCOCleared,
			},
		})
	}

	secure, err := ledger.OpenSecure(cfg.LedgerPath, ledgerHMACKey(cfg))
	if err != nil {
		printError(fmt.Sprintf("opening ledger: %v", err))
		return exitGenericFailure
	}
	defer secure.Close()

	record := ledger.WipeRecord{
		OperationID:         result.OperationID,
		DevicePath:          result.DevicePath,
		DeviceSerial:        result.DeviceSerial,
		DeviceModel:         result.DeviceModel,
		Algorithm:           result.Algorithm.String(),
		Status:              result.Status.String(),
		StartedAt:           result.StartedAt,
		CompletedAt:         result.CompletedAt,
		BytesWiped:          result.BytesWiped,
		PassesCompleted:     result.PassesCompleted,
		VerificationPassed:  result.VerificationPassed,
	}
	if _, err := secure.AppendWipeRecord(record); err != nil {
		printError(fmt.Sprintf("recording wipe in ledger: %v", err))
	}

	var verResult *verification.Result
	if opts.VerifyWipe {
		vTimer := m.StartVerificationTimer()
		vopts := verification.Options{}
		r, err := verification.NewEngine().Verify(ctx, port, algo, vopts)
		vTimer.Stop()
		if err != nil {
			printError(fmt.Sprintf("post-wipe certification verification: %v", err))
		} else {
			verResult = r
			m.VerificationsTotal.Inc()
			audit.Log(ctx, logging.AuditEvent{
				EventType: logging.AuditEventVerification,
				Action:    "verification_completed",
				Resource:  devicePath,
				Result:    "success",
				Details: map[string]interface{}{
					"verdict":      r.Verdict.String(),
					"success_rate": r.SuccessRate,
				},
			})
		}
	}

	cert, err := buildCertificate(desc, result, verResult)
	if err != nil {
		printError(fmt.Sprintf("building certificate: %v", err))
		return exitGenericFailure
	}

	signTimer := m.StartSigningTimer()
	signed, code := signAndEmit(cfg, cert, *outPath)
	signTimer.Stop()
	if code != exitSuccess {
		return code
	}
	m.CertificatesTotal.Inc()
	audit.Log(ctx, logging.AuditEvent{
		EventType: logging.AuditEventCertIssued,
		Action:    "certificate_issued",
		Resource:  cert.CertificateID(),
		Result:    "success",
		Details: map[string]interface{}{
			"key_id": signed.SignatureInfo.KeyID,
		},
	})

	qrPayload := qrcode.BuildPayload(*signed)
	if qrJSON, err := qrcode.Encode(qrPayload); err == nil {
		fmt.Printf("  %sQR payload%s     %s\n", c.Dim, c.Reset, qrJSON)
	}

	certJSON, _ := json.Marshal(signed)
	certRecord := ledger.CertificateRecord{
		CertificateID:   cert.CertificateID(),
		OperationID:     result.OperationID,
		KeyID:           signed.SignatureInfo.KeyID,
		CertificateHash: signed.SignatureInfo.CertificateHash,
		IssuedAt:        signed.SignedAt,
		CertificateJSON: string(certJSON),
	}
	if _, err := secure.InsertCertificateRecord(&certRecord); err != nil {
		printError(fmt.Sprintf("recording certificate in ledger: %v", err))
	}

	if verResult != nil && verResult.Verdict != verification.StatusPassed {
		return exitVerificationFailed
	}
	return exitSuccess
}

func ledgerHMACKey(cfg *config.Config) []byte {
	data, err := os.ReadFile(cfg.SigningKeyPath)
	if err != nil {
		sum := sha256.Sum256([]byte(cfg.LedgerPath))
		return sum[:]
	}
	sum := sha256.Sum256(data)
	return sum[:]
}

func buildCertificate(desc deviceport.Descriptor, result *wipe.Result, verResult *verification.Result) (certificate.Certificate, error) {
	data := certificate.Data{
		CertificateID: uuid.NewString(),
		GeneratedAt:   time.Now().UTC(),
		DeviceInfo: certificate.DeviceInfo{
			Path:   desc.Path,
			Serial: desc.Serial,
			Model:  desc.Model,
			Size:   desc.Size,
		},
		WipeInfo: certificate.WipeInfo{
			Algorithm:          result.Algorithm,
			StartedAt:          result.StartedAt,
			CompletedAt:        result.CompletedAt,
			PassesCompleted:    result.PassesCompleted,
			VerificationPassed: result.VerificationPassed,
		},
	}
	if result.Duration != nil {
		d := certificate.Duration(*result.Duration)
		data.WipeInfo.Duration = &d
	}
	if verResult != nil {
		vi := certificate.VerificationInfoFrom(verResult)
		data.VerificationInfo = &vi
	}
	compliance := certificate.FromAlgorithm(result.Algorithm)
	data.ComplianceInfo = &compliance

	cert := certificate.New(data, Version)
	if err := cert.Validate(); err != nil {
		return certificate.Certificate{}, err
	}
	return cert, nil
}

func signAndEmit(cfg *config.Config, cert certificate.Certificate, outPath string) (*certificate.Signed, int) {
	s, err := certificate.SignerFromFiles(cfg.SigningKeyPath)
	if err != nil {
		printError(fmt.Sprintf("loading signing key: %v", err))
		return nil, exitGenericFailure
	}

	signed, err := s.SignCertificate(cert, time.Now().UTC())
	if err != nil {
		printError(fmt.Sprintf("signing certificate: %v", err))
		return nil, exitGenericFailure
	}

	out, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		printError(fmt.Sprintf("encoding certificate: %v", err))
		return nil, exitGenericFailure
	}
	if err := certschema.Validate(out); err != nil {
		printError(fmt.Sprintf("certificate failed schema validation: %v", err))
		return nil, exitGenericFailure
	}

	if outPath == "" {
		fmt.Println(string(out))
	} else {
		if err := os.WriteFile(outPath, out, 0644); err != nil {
			printError(fmt.Sprintf("writing certificate: %v", err))
			return nil, exitGenericFailure
		}
		fmt.Printf("%scertificate written to%s %s\n", c.Green, c.Reset, outPath)
	}

	return signed, exitSuccess
}

func cmdVerify(devicePath string, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	algoName := fs.String("algorithm", "", "algorithm the device was wiped with, for type selection")
	fs.Parse(args)

	cfg := loadConfig()
	log := initLogging(cfg)
	audit := initAudit(cfg)

	port, code := openDevice(devicePath)
	if port == nil {
		return code
	}
	defer port.Close()

	ctx := context.Background()
	algo := algorithms.NIST80088
	if *algoName != "" {
		a, err := algorithms.Parse(*algoName)
		if err != nil {
			printError(err.Error())
			return exitInvalidConfig
		}
		algo = a
	}

	m := metrics.GetMetrics()
	vTimer := m.StartVerificationTimer()
	result, err := verification.NewEngine().Verify(ctx, port, algo, verification.Options{})
	vTimer.Stop()
	if err != nil {
		m.RecordError()
		log.Error("verification failed", "device", devicePath, "error", err)
		printError(fmt.Sprintf("verification failed: %v", err))
		return exitGenericFailure
	}
	m.VerificationsTotal.Inc()
	audit.Log(ctx, logging.AuditEvent{
		EventType: logging.AuditEventVerification,
		Action:    "standalone_verification",
		Resource:  devicePath,
		Result:    "success",
		Details: map[string]interface{}{
			"verdict":      result.Verdict.String(),
			"success_rate": result.SuccessRate,
		},
	})

	printSection("VERIFICATION RESULT")
	fmt.Printf("  %sType%s            %s\n", c.Dim, c.Reset, result.Type)
	fmt.Printf("  %sSamples%s         %d tested, %d passed\n", c.Dim, c.Reset, result.SamplesTested, result.SamplesPassed)
	fmt.Printf("  %sSuccess rate%s    %.2f%%\n", c.Dim, c.Reset, result.SuccessRate*100)
	fmt.Printf("  %sVerdict%s         %s\n", c.Dim, c.Reset, result.Verdict)
	fmt.Printf("  %sAvg entropy%s     %.3f bits/byte\n", c.Dim, c.Reset, result.Entropy.AverageEntropy)
	for _, rec := range result.Recommendations {
		fmt.Printf("  %s-%s %s\n", c.Yellow, c.Reset, rec)
	}

	if result.Verdict != verification.StatusPassed {
		return exitVerificationFailed
	}
	return exitSuccess
}

func cmdSign(operationID string) int {
	cfg := loadConfig()
	secure, err := ledger.OpenSecure(cfg.LedgerPath, ledgerHMACKey(cfg))
	if err != nil {
		printError(fmt.Sprintf("opening ledger: %v", err))
		return exitGenericFailure
	}
	defer secure.Close()

	record, err := secure.GetWipeRecord(operationID)
	if err != nil {
		printError(fmt.Sprintf("reading wipe record: %v", err))
		return exitGenericFailure
	}
	if record == nil {
		printError(fmt.Sprintf("no wipe record found for operation %s", operationID))
		return exitGenericFailure
	}

	algo, err := algorithms.Parse(record.Algorithm)
	if err != nil {
		printError(err.Error())
		return exitGenericFailure
	}

	data := certificate.Data{
		CertificateID: uuid.NewString(),
		GeneratedAt:   time.Now().UTC(),
		DeviceInfo: certificate.DeviceInfo{
			Path:   record.DevicePath,
			Serial: record.DeviceSerial,
			Model:  record.DeviceModel,
		},
		WipeInfo: certificate.WipeInfo{
			Algorithm:          algo,
			StartedAt:          record.StartedAt,
			CompletedAt:        record.CompletedAt,
			PassesCompleted:    record.PassesCompleted,
			VerificationPassed: record.VerificationPassed,
		},
	}
	compliance := certificate.FromAlgorithm(algo)
	data.ComplianceInfo = &compliance

	cert := certificate.New(data, Version)
	if err := cert.Validate(); err != nil {
		printError(fmt.Sprintf("assembling certificate: %v", err))
		return exitGenericFailure
	}

	signed, code := signAndEmit(cfg, cert, "")
	if code != exitSuccess {
		return code
	}
	if payload, err := qrcode.Encode(qrcode.BuildPayload(*signed)); err == nil {
		fmt.Printf("  %sQR payload%s     %s\n", c.Dim, c.Reset, payload)
	}
	return exitSuccess
}

func cmdVerifyCert(path string) int {
	cfg := loadConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		printError(fmt.Sprintf("reading certificate file: %v", err))
		return exitGenericFailure
	}

	if err := certschema.Validate(raw); err != nil {
		printError(fmt.Sprintf("certificate failed schema validation: %v", err))
		return exitGenericFailure
	}

	verifier := certverify.New()
	if _, errs := verifier.LoadDir(cfg.TrustedKeysDir); len(errs) > 0 {
		for _, e := range errs {
			printError(e.Error())
		}
	}

	audit := initAudit(cfg)
	if err := verifier.VerifyCertificateFile(path); err != nil {
		audit.Log(context.Background(), logging.AuditEvent{
			EventType: logging.AuditEventVerification,
			Action:    "certificate_verify",
			Resource:  path,
			Result:    "failure",
			Error:     err.Error(),
		})
		printError(fmt.Sprintf("certificate verification failed: %v", err))
		return exitVerificationFailed
	}
	audit.Log(context.Background(), logging.AuditEvent{
		EventType: logging.AuditEventVerification,
		Action:    "certificate_verify",
		Resource:  path,
		Result:    "success",
	})

	fmt.Printf("%scertificate is valid and trusted%s\n", c.Green, c.Reset)
	return exitSuccess
}

func cmdKeygen() int {
	cfg := loadConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		printError(fmt.Sprintf("preparing directories: %v", err))
		return exitInvalidConfig
	}

	key, err := signer.GenerateKey()
	if err != nil {
		printError(fmt.Sprintf("generating key: %v", err))
		return exitGenericFailure
	}

	privPEM, err := signer.MarshalPrivateKeyPEM(key)
	if err != nil {
		printError(fmt.Sprintf("encoding private key: %v", err))
		return exitGenericFailure
	}
	if err := os.WriteFile(cfg.SigningKeyPath, privPEM, 0600); err != nil {
		printError(fmt.Sprintf("writing private key: %v", err))
		return exitGenericFailure
	}

	pub := signer.GetPublicKey(key)
	pubPEM, err := signer.MarshalPublicKeyPEM(pub)
	if err != nil {
		printError(fmt.Sprintf("encoding public key: %v", err))
		return exitGenericFailure
	}
	pubPath := cfg.SigningKeyPath + ".pub"
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		printError(fmt.Sprintf("writing public key: %v", err))
		return exitGenericFailure
	}

	keyID, _ := signer.KeyID(pub)
	fingerprint, _ := signer.Fingerprint(pub)

	var sealedPath, providerKind string
	if cfg.TPMSealing {
		sealed, kind, sealErr := sealPrivateKey(privPEM)
		if sealErr != nil {
			printError(fmt.Sprintf("key escrow not sealed: %v", sealErr))
		} else {
			sealedPath = cfg.SigningKeyPath + ".sealed"
			if err := os.WriteFile(sealedPath, sealed, 0600); err != nil {
				printError(fmt.Sprintf("writing sealed key: %v", err))
				sealedPath = ""
			} else {
				providerKind = kind
			}
		}
	}

	audit := initAudit(cfg)
	audit.Log(context.Background(), logging.AuditEvent{
		EventType: logging.AuditEventKeyGenerated,
		Action:    "key_generated",
		Resource:  keyID,
		Result:    "success",
		Details: map[string]interface{}{
			"fingerprint": fingerprint,
			"sealed":      sealedPath != "",
			"provider":    providerKind,
		},
	})

	printSection("KEY GENERATED")
	fmt.Printf("  %sPrivate key%s  %s\n", c.Dim, c.Reset, cfg.SigningKeyPath)
	fmt.Printf("  %sPublic key%s   %s\n", c.Dim, c.Reset, pubPath)
	fmt.Printf("  %sKey ID%s       %s\n", c.Dim, c.Reset, keyID)
	fmt.Printf("  %sFingerprint%s  %s\n", c.Dim, c.Reset, fingerprint)
	if sealedPath != "" {
		fmt.Printf("  %sSealed escrow%s %s (%s)\n", c.Dim, c.Reset, sealedPath, providerKind)
	}
	fmt.Printf("\n  Distribute %s to verifiers via %strust add%s.\n", pubPath, c.Cyan, c.Reset)
	return exitSuccess
}

func cmdTrust(args []string) int {
	if len(args) < 1 {
		printError("Usage: saferasectl trust <add|list|watch> [pem-file]")
		return exitGenericFailure
	}
	cfg := loadConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		printError(fmt.Sprintf("preparing directories: %v", err))
		return exitInvalidConfig
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			printError("Usage: saferasectl trust add <pem-file>")
			return exitGenericFailure
		}
		src := args[1]
		data, err := os.ReadFile(src)
		if err != nil {
			printError(fmt.Sprintf("reading key file: %v", err))
			return exitGenericFailure
		}
		pub, err := signer.LoadPublicKeyFromPEM(data)
		if err != nil {
			printError(fmt.Sprintf("parsing public key: %v", err))
			return exitGenericFailure
		}
		keyID, err := signer.KeyID(pub)
		if err != nil {
			printError(fmt.Sprintf("deriving key id: %v", err))
			return exitGenericFailure
		}
		dest := filepath.Join(cfg.TrustedKeysDir, keyID+".pem")
		if err := os.WriteFile(dest, data, 0644); err != nil {
			printError(fmt.Sprintf("storing trusted key: %v", err))
			return exitGenericFailure
		}
		fmt.Printf("%strusted%s key %s -> %s\n", c.Green, c.Reset, keyID, dest)
		return exitSuccess

	case "list":
		verifier := certverify.New()
		keyIDs, errs := verifier.LoadDir(cfg.TrustedKeysDir)
		for _, e := range errs {
			printError(e.Error())
		}
		printSection("TRUSTED KEYS")
		for _, id := range keyIDs {
			fmt.Printf("  %s\n", id)
		}
		return exitSuccess

	case "watch":
		return cmdTrustWatch(cfg)

	default:
		printError(fmt.Sprintf("unknown trust subcommand: %s", args[0]))
		return exitGenericFailure
	}
}

// cmdTrustWatch runs a long-lived process that keeps an in-memory trust
// store in sync with cfg.TrustedKeysDir, reloading keys as operators
// add, rotate, or revoke them without restarting anything that holds
// the store open.
func cmdTrustWatch(cfg *config.Config) int {
	log := initLogging(cfg)

	verifier := certverify.New()
	keyIDs, loadErrs := verifier.LoadDir(cfg.TrustedKeysDir)
	for _, e := range loadErrs {
		printError(e.Error())
	}

	interval := cfg.TrustWatchIntervalSec
	if interval < 1 {
		interval = 2
	}
	watcher, err := trustwatch.New(cfg.TrustedKeysDir, verifier, interval)
	if err != nil {
		printError(fmt.Sprintf("starting trust watcher: %v", err))
		return exitGenericFailure
	}
	if err := watcher.Start(); err != nil {
		printError(fmt.Sprintf("starting trust watcher: %v", err))
		return exitGenericFailure
	}
	defer watcher.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	printSection("TRUST WATCH")
	fmt.Printf("  %swatching%s %s (%d keys loaded, ctrl-c to stop)\n", c.Dim, c.Reset, cfg.TrustedKeysDir, len(keyIDs))
	log.Info("trust watcher started", "dir", cfg.TrustedKeysDir, "keys", len(keyIDs))

	for {
		select {
		case ev := <-watcher.Events():
			action := "loaded"
			if ev.Removed {
				action = "revoked"
			}
			fmt.Printf("  %s%s%s %-8s %s\n", c.Green, ev.Timestamp.Format(time.RFC3339), c.Reset, action, ev.KeyID)
			log.Info("trust store reload", "key_id", ev.KeyID, "removed", ev.Removed, "path", ev.Path)
		case watchErr := <-watcher.Errors():
			log.Error("trust watcher error", "error", watchErr)
			printError(fmt.Sprintf("trust watcher: %v", watchErr))
		case <-sigCh:
			fmt.Println("stopping")
			return exitSuccess
		}
	}
}

func cmdStatus() int {
	cfg := loadConfig()

	printSection("CONFIGURATION")
	fmt.Printf("  %sTrusted keys dir%s  %s\n", c.Dim, c.Reset, cfg.TrustedKeysDir)
	fmt.Printf("  %sDefault algorithm%s %s\n", c.Dim, c.Reset, cfg.DefaultAlgorithm)
	fmt.Printf("  %sSigning key%s       %s\n", c.Dim, c.Reset, cfg.SigningKeyPath)
	fmt.Printf("  %sLedger%s            %s\n", c.Dim, c.Reset, cfg.LedgerPath)

	if _, err := os.Stat(cfg.LedgerPath); err == nil {
		s, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			printError(fmt.Sprintf("opening ledger: %v", err))
			return exitGenericFailure
		}
		defer s.Close()
		n, err := s.CountWipeRecords()
		if err != nil {
			printError(fmt.Sprintf("counting ledger records: %v", err))
			return exitGenericFailure
		}
		printSection("LEDGER")
		fmt.Printf("  %swipe records%s  %d\n", c.Dim, c.Reset, n)
	}

	if _, err := os.Stat(cfg.TrustedKeysDir); err == nil {
		verifier := certverify.New()
		keyIDs, _ := verifier.LoadDir(cfg.TrustedKeysDir)
		printSection("TRUST STORE")
		fmt.Printf("  %strusted keys%s  %d\n", c.Dim, c.Reset, len(keyIDs))
	}

	m := metrics.GetMetrics()
	printSection("SESSION METRICS")
	fmt.Printf("  %sbytes wiped%s        %d\n", c.Dim, c.Reset, m.BytesWipedTotal.Value())
	fmt.Printf("  %spasses completed%s   %d\n", c.Dim, c.Reset, m.PassesCompletedTotal.Value())
	fmt.Printf("  %scertificates%s       %d\n", c.Dim, c.Reset, m.CertificatesTotal.Value())
	fmt.Printf("  %serrors%s             %d\n", c.Dim, c.Reset, m.ErrorsTotal.Value())

	checker := health.NewChecker()
	checker.RegisterFunc("signing_key", true, health.FileExistsCheck(cfg.SigningKeyPath))
	checker.RegisterFunc("trusted_keys_dir", false, health.DirReadableCheck(cfg.TrustedKeysDir))
	checker.RegisterFunc("ledger", true, health.FileExistsCheck(cfg.LedgerPath))
	results := checker.Check(context.Background())

	printSection("HEALTH")
	for _, name := range []string{"signing_key", "trusted_keys_dir", "ledger"} {
		r := results[name]
		fmt.Printf("  %s%-18s%s %s  %s\n", c.Dim, name, c.Reset, r.Status, r.Message)
	}
	fmt.Printf("  %soverall%s            %s\n", c.Dim, c.Reset, checker.OverallStatus())

	printSection("KEY ESCROW")
	provider := tpm.DetectTPM()
	if _, ok := provider.(tpm.Sealer); ok {
		fmt.Printf("  %sTPM/Secure Enclave%s %s %s\n", c.Dim, c.Reset, provider.Manufacturer(), provider.FirmwareVersion())
	} else {
		fmt.Printf("  %sTPM/Secure Enclave%s not detected, keygen falls back to the software simulator\n", c.Dim, c.Reset)
	}
	sealedPath := cfg.SigningKeyPath + ".sealed"
	if _, err := os.Stat(sealedPath); err == nil {
		fmt.Printf("  %ssealed escrow%s     %s\n", c.Dim, c.Reset, sealedPath)
	}

	return exitSuccess
}
