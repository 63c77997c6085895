package deb

// ControlField represents a standard field in a control stanza.
type ControlField string

const (
	// Fields that make up a package's identity.
	FieldPackage      ControlField = "Package"
	FieldVersion      ControlField = "Version"
	FieldArchitecture ControlField = "Architecture"

	// Fields added by an archive's Packages index, not present in the .deb itself.
	FieldFilename ControlField = "Filename"
	FieldSize     ControlField = "Size"
	FieldSHA256   ControlField = "SHA256"
)

// ControlFile represents a standard file found in the control.tar archive.
type ControlFile string

const (
	FileControl ControlFile = "control"
)

// PackageFile represents a standard member of the .deb archive (ar format).
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTar   PackageFile = "control.tar"
	PkgControlTarGz PackageFile = "control.tar.gz"
	PkgControlTarXz PackageFile = "control.tar.xz"
	PkgDataTarGz    PackageFile = "data.tar.gz"
)

// ReleaseField represents a standard field in a Release file.
type ReleaseField string

const (
	RelOrigin               ReleaseField = "Origin"
	RelLabel                ReleaseField = "Label"
	RelSuite                ReleaseField = "Suite"
	RelVersion              ReleaseField = "Version"
	RelCodename             ReleaseField = "Codename"
	RelDate                 ReleaseField = "Date"
	RelValidUntil           ReleaseField = "Valid-Until"
	RelArchitectures        ReleaseField = "Architectures"
	RelComponents           ReleaseField = "Components"
	RelDescription          ReleaseField = "Description"
	RelNotAutomatic         ReleaseField = "NotAutomatic"
	RelButAutomaticUpgrades ReleaseField = "ButAutomaticUpgrades"
	RelAcquireByHash        ReleaseField = "Acquire-By-Hash"
	RelSHA256               ReleaseField = "SHA256"
)
