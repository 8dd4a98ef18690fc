package cdoc1

import "encoding/xml"

// The types below mirror XML-Enc's EncryptedData element tree closely
// enough for Writer.Finish to serialize it and Reader.parseMetadata /
// extractPayloadCipherValue (which read element-by-element by local name,
// ignoring namespace prefixes) to parse it back. They are not a general
// XML-Enc implementation — only the subset CDoc1 actually uses.

type xmlAlgorithm struct {
	Algorithm string `xml:"Algorithm,attr"`
}

type xmlEncryptionProperty struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

type xmlEncryptionProperties struct {
	Items []xmlEncryptionProperty `xml:"EncryptionProperty"`
}

type xmlConcatKDFParams struct {
	AlgorithmID  string       `xml:"AlgorithmID,attr"`
	PartyUInfo   string       `xml:"PartyUInfo,attr"`
	PartyVInfo   string       `xml:"PartyVInfo,attr"`
	DigestMethod xmlAlgorithm `xml:"DigestMethod"`
}

type xmlKeyDerivationMethod struct {
	ConcatKDFParams xmlConcatKDFParams `xml:"ConcatKDFParams"`
}

type xmlOriginatorKeyInfo struct {
	PublicKey string `xml:"KeyValue>ECKeyValue>PublicKey"`
}

type xmlAgreementMethod struct {
	KeyDerivationMethod xmlKeyDerivationMethod `xml:"KeyDerivationMethod"`
	OriginatorKeyInfo   xmlOriginatorKeyInfo   `xml:"OriginatorKeyInfo"`
}

type xmlX509Data struct {
	X509Certificate string `xml:"X509Certificate"`
}

type xmlKeyInfo struct {
	AgreementMethod *xmlAgreementMethod `xml:"AgreementMethod,omitempty"`
	X509Data        *xmlX509Data        `xml:"X509Data,omitempty"`
}

type xmlCipherData struct {
	CipherValue string `xml:"CipherValue"`
}

type xmlEncryptedKey struct {
	Recipient        string        `xml:"Recipient,attr"`
	EncryptionMethod xmlAlgorithm  `xml:"EncryptionMethod"`
	KeyInfo          xmlKeyInfo    `xml:"KeyInfo"`
	CipherData       xmlCipherData `xml:"CipherData"`
}

type xmlDataKeyInfo struct {
	EncryptedKeys []xmlEncryptedKey `xml:"EncryptedKey"`
}

type xmlEncryptedData struct {
	XMLName          xml.Name                `xml:"EncryptedData"`
	XMLNS            string                  `xml:"xmlns,attr"`
	MimeType         string                  `xml:"MimeType,attr"`
	EncryptionMethod xmlAlgorithm            `xml:"EncryptionMethod"`
	KeyInfo          xmlDataKeyInfo          `xml:"KeyInfo"`
	CipherData       xmlCipherData           `xml:"CipherData"`
	Properties       xmlEncryptionProperties `xml:"EncryptionProperties"`
}
