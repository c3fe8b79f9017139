package response

// Code tables from the X12 005010 implementation guides and the published
// CARC/RARC lists. Lookups never fail: unknown codes come back as
// "<label> <code>".

var stcCategoryText = map[string]string{
	"A0": "Acknowledgement/Forwarded",
	"A1": "Acknowledgement/Receipt",
	"A2": "Acknowledgement/Acceptance into adjudication system",
	"A3": "Acknowledgement/Returned as unprocessable claim",
	"A4": "Acknowledgement/Not Found",
	"A5": "Acknowledgement/Split Claim",
	"A6": "Acknowledgement/Rejected for Missing Information",
	"A7": "Acknowledgement/Rejected for Invalid Information",
	"A8": "Acknowledgement/Rejected for relational field in error",
	"D0": "Data Search Unsuccessful",
	"E0": "Response not possible - error on submitted request data",
	"E1": "Response not possible - System Status",
	"E2": "Information Holder is not responding; resubmit at a later time",
	"E3": "Correction required - relational fields in error",
	"E4": "Trading partner agreement specific requirement not met",
	"F0": "Finalized",
	"F1": "Finalized/Payment",
	"F2": "Finalized/Denial",
	"F3": "Finalized/Revised",
	"F3F": "Finalized/Forwarded",
	"F3N": "Finalized/Not Forwarded",
	"F4": "Finalized/Adjudication Complete - No payment forthcoming",
	"P0": "Pending: Adjudication/Details",
	"P1": "Pending/In Process",
	"P2": "Pending/Payer Review",
	"P3": "Pending/Provider Requested Information",
	"P4": "Pending/Patient Requested Information",
	"P5": "Pending/Payer Administrative/System hold",
	"R0": "Requests for additional Information/General Requests",
	"R1": "Requests for additional Information/Entity Requests",
	"R3": "Requests for additional Information/Claim/Line",
	"R4": "Requests for additional Information/Documentation Requests",
	"R5": "Request for additional information/more specific detail",
	"R6": "Requests for additional information - Regulatory requirements",
	"R7": "Requests for additional information - Confirm care is consistent with Health Plan policy coverage",
	"R8": "Requests for additional information - Confirm care is consistent with health plan coverage exceptions",
	"R9": "Requests for additional information - Determination of medical necessity",
	"R10": "Requests for additional information - Support a filed grievance or appeal",
	"R11": "Requests for additional information - Pre-payment review of claims",
	"R12": "Requests for additional information - Clarification or justification of use for specified procedure code",
	"R13": "Requests for additional information - Original documents submitted are not readable",
	"R14": "Requests for additional information - Original documents received are not what was requested",
	"R15": "Requests for additional information - Workers Compensation coverage verification",
	"R16": "Requests for additional information - Eligibility verification",
}

// stcCategoryStatus maps a status category to the normalized claim status.
// P4 is treated as a payer denial hold.
var stcCategoryStatus = map[string]NormalizedStatus{
	"A0": StatusAcknowledged,
	"A1": StatusAcknowledged,
	"A2": StatusAcknowledged,
	"A5": StatusAcknowledged,
	"A3": StatusRejected,
	"A4": StatusRejected,
	"A6": StatusRejected,
	"A7": StatusRejected,
	"A8": StatusRejected,
	"P0": StatusPended,
	"P1": StatusInProcess,
	"P2": StatusPended,
	"P3": StatusPended,
	"P4": StatusDenied,
	"P5": StatusPended,
	"F0": StatusFinalized,
	"F1": StatusPaid,
	"F2": StatusDenied,
	"F3": StatusFinalized,
	"F3F": StatusFinalized,
	"F3N": StatusFinalized,
	"F4": StatusDenied,
	"E0": StatusError,
	"E1": StatusError,
	"E2": StatusError,
	"E3": StatusError,
	"E4": StatusError,
	"D0": StatusUnknown,
}

var stcStatusText = map[string]string{
	"0":   "Cannot provide further status electronically",
	"1":   "For more detailed information, see remittance advice",
	"2":   "More detailed information in letter",
	"3":   "Claim has been adjudicated and is awaiting payment cycle",
	"6":   "Balance due from the subscriber",
	"12":  "One or more originally submitted procedure codes have been combined",
	"15":  "One or more originally submitted procedure code have been modified",
	"16":  "Claim/encounter has been forwarded to entity",
	"17":  "Claim/encounter has been forwarded by third party entity to entity",
	"19":  "Entity acknowledges receipt of claim/encounter",
	"20":  "Accepted for processing",
	"21":  "Missing or invalid information",
	"23":  "Returned to Entity",
	"24":  "Entity not approved as an electronic submitter",
	"25":  "Entity not approved",
	"26":  "Entity not found",
	"27":  "Policy canceled",
	"29":  "Subscriber and policy number/contract number mismatched",
	"30":  "Subscriber and subscriber id mismatched",
	"31":  "Subscriber and policyholder name mismatched",
	"33":  "Subscriber not found",
	"35":  "Claim/encounter not found",
	"41":  "Special handling required at payer site",
	"44":  "Charges pending provider audit",
	"45":  "Claim/service should be processed by entity",
	"46":  "Entity's Phone Number",
	"47":  "Entity's Address",
	"65":  "Claim/line has been paid",
	"73":  "Service date",
	"78":  "Duplicate of a previously processed claim/line",
	"79":  "Claim submitted to incorrect payer",
	"81":  "Contract/plan does not cover pre-existing conditions",
	"85":  "No benefits for a non-covered service",
	"88":  "Entity not eligible for benefits for submitted dates of service",
	"89":  "Entity not eligible for dental benefits for submitted dates of service",
	"90":  "Entity not eligible for medical benefits for submitted dates of service",
	"95":  "Benefits coordinated with Medicare",
	"96":  "Secondary Medicare Payer Information",
	"97":  "Patient eligibility not found with entity",
	"101": "Claim was processed as adjustment to previous claim",
	"104": "Processed according to plan provisions",
	"107": "Processed according to contract/plan provisions",
	"116": "Claim submitted to the incorrect payer",
	"145": "Entity's name",
	"153": "Entity's ID Number",
	"187": "Date(s) of service",
	"247": "Line Item Control Number",
	"252": "Attachment/other documentation",
	"254": "Principal diagnosis code",
	"255": "Diagnosis code",
	"400": "Claim is out of balance",
	"454": "Procedure code for services rendered",
	"455": "Revenue code for services rendered",
	"456": "Covered days",
	"477": "Medical Record Number",
	"496": "Submitter not approved for electronic claim submissions on behalf of this entity",
	"510": "Future date",
	"516": "Provider Type",
	"562": "Entity's National Provider Identifier (NPI)",
	"673": "Patient Control Number",
	"685": "Claim could not complete adjudication in real time. Claim will continue processing in a batch mode",
	"718": "Claim/Service denied",
}

// CategoryText describes a 277 status category code.
func CategoryText(code string) string {
	if t, ok := stcCategoryText[code]; ok {
		return t
	}
	return "Status " + code
}

// StatusText describes a 277 claim status code.
func StatusText(code string) string {
	if t, ok := stcStatusText[code]; ok {
		return t
	}
	return "Status " + code
}

var ak9Results = map[string]AckResult{
	"A": AckAccepted,
	"E": AckAcceptedWithErrors,
	"P": AckAcceptedWithErrors,
	"R": AckRejected,
	"M": AckRejected,
	"W": AckRejected,
	"X": AckRejected,
}

var segmentErrorText = map[string]string{
	"1":  "Unrecognized segment ID",
	"2":  "Unexpected segment",
	"3":  "Required Segment Missing",
	"4":  "Loop Occurs Over Maximum Times",
	"5":  "Segment Exceeds Maximum Use",
	"6":  "Segment Not in Defined Transaction Set",
	"7":  "Segment Not in Proper Sequence",
	"8":  "Segment Has Data Element Errors",
	"I4": "Implementation \"Not Used\" Segment Present",
	"I6": "Implementation Dependent Segment Missing",
	"I7": "Implementation Loop Occurs Under Minimum Times",
	"I8": "Implementation Segment Below Minimum Use",
	"I9": "Implementation Dependent \"Not Used\" Segment Present",
}

var elementErrorText = map[string]string{
	"1":   "Required Data Element Missing",
	"2":   "Conditional Required Data Element Missing",
	"3":   "Too Many Data Elements",
	"4":   "Data Element Too Short",
	"5":   "Data Element Too Long",
	"6":   "Invalid Character In Data Element",
	"7":   "Invalid Code Value",
	"8":   "Invalid Date",
	"9":   "Invalid Time",
	"10":  "Exclusion Condition Violated",
	"12":  "Too Many Repetitions",
	"13":  "Too Many Components",
	"I6":  "Code Value Not Used in Implementation",
	"I9":  "Implementation Dependent Data Element Missing",
	"I10": "Implementation \"Not Used\" Data Element Present",
	"I11": "Implementation Too Few Repetitions",
	"I12": "Implementation Pattern Match Failure",
	"I13": "Implementation Dependent \"Not Used\" Data Element Present",
}

var transactionErrorText = map[string]string{
	"1":  "Transaction Set Not Supported",
	"2":  "Transaction Set Trailer Missing",
	"3":  "Transaction Set Control Number in Header and Trailer Do Not Match",
	"4":  "Number of Included Segments Does Not Match Actual Count",
	"5":  "One or More Segments in Error",
	"6":  "Missing or Invalid Transaction Set Identifier",
	"7":  "Missing or Invalid Transaction Set Control Number",
	"8":  "Authentication Key Name Unknown",
	"9":  "Encryption Key Name Unknown",
	"10": "Requested Service (Authentication or Encrypted) Not Available",
	"11": "Unknown Security Recipient",
	"12": "Incorrect Message Length (Encryption Only)",
	"13": "Message Authentication Code Failed",
	"15": "Unknown Security Originator",
	"16": "Syntax Error in Decrypted Text",
	"17": "Security Not Supported",
	"18": "Transaction Set not in Functional Group",
	"19": "Invalid Transaction Set Implementation Convention Reference",
	"23": "Transaction Set Control Number Not Unique within the Functional Group",
	"24": "S3E Security End Segment Missing for S3S Security Start Segment",
	"25": "S3S Security Start Segment Missing for S3E Security End Segment",
	"26": "S4E Security End Segment Missing for S4S Security Start Segment",
	"27": "S4S Security Start Segment Missing for S4E Security End Segment",
	"I5": "Implementation One or More Segments in Error",
	"I6": "Implementation Convention Not Supported",
}

var groupErrorText = map[string]string{
	"1":  "Functional Group Not Supported",
	"2":  "Functional Group Version Not Supported",
	"3":  "Functional Group Trailer Missing",
	"4":  "Group Control Number in the Functional Group Header and Trailer Do Not Agree",
	"5":  "Number of Included Transaction Sets Does Not Match Actual Count",
	"6":  "Group Control Number Violates Syntax",
	"10": "Authentication Key Name Unknown",
	"11": "Encryption Key Name Unknown",
	"12": "Requested Service (Authentication or Encryption) Not Available",
	"13": "Unknown Security Recipient",
	"14": "Unknown Security Originator",
	"15": "Syntax Error in Decrypted Text",
	"16": "Security Not Supported",
	"17": "Incorrect Message Length (Encryption Only)",
	"18": "Message Authentication Code Failed",
	"19": "Functional Group Control Number not Unique within Interchange",
	"23": "S3E Security End Segment Missing for S3S Security Start Segment",
	"24": "S3S Security Start Segment Missing for S3E End Segment",
	"25": "S4E Security End Segment Missing for S4S Security Start Segment",
	"26": "S4S Security Start Segment Missing for S4E Security End Segment",
}

func lookup(table map[string]string, label, code string) string {
	if t, ok := table[code]; ok {
		return t
	}
	return label + " " + code
}

var claimStatusCodeText = map[string]string{
	"1":  "Processed as Primary",
	"2":  "Processed as Secondary",
	"3":  "Processed as Tertiary",
	"4":  "Denied",
	"19": "Processed as Primary, Forwarded to Additional Payer(s)",
	"20": "Processed as Secondary, Forwarded to Additional Payer(s)",
	"21": "Processed as Tertiary, Forwarded to Additional Payer(s)",
	"22": "Reversal of Previous Payment",
	"23": "Not Our Claim, Forwarded to Additional Payer(s)",
	"25": "Predetermination Pricing Only - No Payment",
}

var adjustmentGroupText = map[string]string{
	"CO": "Contractual Obligations",
	"CR": "Corrections and Reversals",
	"OA": "Other Adjustments",
	"PI": "Payer Initiated Reductions",
	"PR": "Patient Responsibility",
}

var carcText = map[string]string{
	"1":   "Deductible Amount",
	"2":   "Coinsurance Amount",
	"3":   "Co-payment Amount",
	"4":   "The procedure code is inconsistent with the modifier used",
	"5":   "The procedure code/type of bill is inconsistent with the place of service",
	"6":   "The procedure/revenue code is inconsistent with the patient's age",
	"8":   "The procedure code is inconsistent with the provider type/specialty (taxonomy)",
	"11":  "The diagnosis is inconsistent with the procedure",
	"16":  "Claim/service lacks information or has submission/billing error(s)",
	"18":  "Exact duplicate claim/service",
	"19":  "This is a work-related injury/illness and thus the liability of the Worker's Compensation Carrier",
	"22":  "This care may be covered by another payer per coordination of benefits",
	"23":  "The impact of prior payer(s) adjudication including payments and/or adjustments",
	"24":  "Charges are covered under a capitation agreement/managed care plan",
	"26":  "Expenses incurred prior to coverage",
	"27":  "Expenses incurred after coverage terminated",
	"29":  "The time limit for filing has expired",
	"31":  "Patient cannot be identified as our insured",
	"32":  "Our records indicate the patient is not an eligible dependent",
	"39":  "Services denied at the time authorization/pre-certification was requested",
	"40":  "Charges do not meet qualifications for emergent/urgent care",
	"45":  "Charge exceeds fee schedule/maximum allowable or contracted/legislated fee arrangement",
	"49":  "This is a non-covered service because it is a routine/preventive exam or a diagnostic/screening procedure done in conjunction with a routine/preventive exam",
	"50":  "These are non-covered services because this is not deemed a 'medical necessity' by the payer",
	"51":  "These are non-covered services because this is a pre-existing condition",
	"54":  "Multiple physicians/assistants are not covered in this case",
	"55":  "Procedure/treatment/drug is deemed experimental/investigational by the payer",
	"58":  "Treatment was deemed by the payer to have been rendered in an inappropriate or invalid place of service",
	"59":  "Processed based on multiple or concurrent procedure rules",
	"66":  "Blood Deductible",
	"85":  "Patient Interest Adjustment",
	"89":  "Professional fees removed from charges",
	"94":  "Processed in Excess of charges",
	"96":  "Non-covered charge(s)",
	"97":  "The benefit for this service is included in the payment/allowance for another service/procedure that has already been adjudicated",
	"100": "Payment made to patient/insured/responsible party",
	"107": "The related or qualifying claim/service was not identified on this claim",
	"109": "Claim/service not covered by this payer/contractor",
	"110": "Billing date predates service date",
	"119": "Benefit maximum for this time period or occurrence has been reached",
	"129": "Prior processing information appears incorrect",
	"131": "Claim specific negotiated discount",
	"140": "Patient/Insured health identification number and name do not match",
	"146": "Diagnosis was invalid for the date(s) of service reported",
	"150": "Payer deems the information submitted does not support this level of service",
	"151": "Payment adjusted because the payer deems the information submitted does not support this many/frequency of services",
	"167": "This (these) diagnosis(es) is (are) not covered",
	"170": "Payment is denied when performed/billed by this type of provider",
	"181": "Procedure code was invalid on the date of service",
	"182": "Procedure modifier was invalid on the date of service",
	"185": "The rendering provider is not eligible to perform the service billed",
	"187": "Consumer Spending Account payments",
	"197": "Precertification/notification/authorization/pre-treatment absent",
	"198": "Precertification/notification/authorization/pre-treatment exceeded",
	"204": "This service/equipment/drug is not covered under the patient's current benefit plan",
	"206": "National Provider Identifier - missing",
	"207": "National Provider identifier - Invalid format",
	"208": "National Provider Identifier - Not matched",
	"226": "Information requested from the Billing/Rendering Provider was not provided or not provided timely or was insufficient/incomplete",
	"227": "Information requested from the patient/insured/responsible party was not provided or was insufficient/incomplete",
	"234": "This procedure is not paid separately",
	"236": "This procedure or procedure/modifier combination is not compatible with another procedure or procedure/modifier combination provided on the same day",
	"242": "Services not provided by network/primary care providers",
	"243": "Services not authorized by network/primary care providers",
	"252": "An attachment/other documentation is required to adjudicate this claim/service",
	"253": "Sequestration - reduction in federal payment",
	"256": "Service not payable per managed care contract",
	"270": "Claim received by the medical plan, but benefits not available under this plan",
	"272": "Coverage/program guidelines were not met",
	"273": "Coverage/program guidelines were exceeded",
	"B7":  "This provider was not certified/eligible to be paid for this procedure/service on this date of service",
	"B9":  "Patient is enrolled in a Hospice",
	"B11": "The claim/service has been transferred to the proper payer/processor for processing",
	"B13": "Previously paid. Payment for this claim/service may have been provided in a previous payment",
	"B15": "This service/procedure requires that a qualifying service/procedure be received and covered",
	"B16": "'New Patient' qualifications were not met",
}

var rarcText = map[string]string{
	"M15":   "Separately billed services/tests have been bundled as they are considered components of the same procedure",
	"M20":   "Missing/incomplete/invalid HCPCS",
	"M51":   "Missing/incomplete/invalid procedure code(s)",
	"M76":   "Missing/incomplete/invalid diagnosis or condition",
	"M77":   "Missing/incomplete/invalid/inappropriate place of service",
	"M80":   "Not covered when performed during the same session/date as a previously processed service for the patient",
	"M86":   "Service denied because payment already made for same/similar procedure within set time frame",
	"MA01":  "Alert: If you do not agree with what we approved for these services, you may appeal our decision",
	"MA04":  "Secondary payment cannot be considered without the identity of or payment information from the primary payer",
	"MA18":  "Alert: The claim information is also being forwarded to the patient's supplemental insurer",
	"MA130": "Your claim contains incomplete and/or invalid information, and no appeal rights are afforded because the claim is unprocessable",
	"N4":    "Missing/Incomplete/Invalid prior Insurance Carrier(s) EOB",
	"N19":   "Procedure code incidental to primary procedure",
	"N20":   "Service not payable with other service rendered on the same date",
	"N30":   "Patient ineligible for this service",
	"N95":   "This provider type/provider specialty may not bill this service",
	"N115":  "This decision was based on a Local Coverage Determination (LCD)",
	"N130":  "Consult plan benefit documents/guidelines for information about restrictions for this service",
	"N179":  "Additional information has been requested from the member",
	"N290":  "Missing/incomplete/invalid rendering provider primary identifier",
	"N362":  "The number of Days or Units of Service exceeds our acceptable maximum",
	"N381":  "Alert: Consult our contractual agreement for restrictions/billing/payment information related to these charges",
	"N386":  "This decision was based on a National Coverage Determination (NCD)",
	"N425":  "Statutorily excluded service(s)",
	"N522":  "Duplicate of a claim processed, or to be processed, as a crossover claim",
	"N640":  "Exceeds number/frequency approved/allowed within time period",
	"N657":  "This should be billed with the appropriate code for these services",
}

// ReasonText describes a claim adjustment reason code.
func ReasonText(code string) string { return lookup(carcText, "Reason", code) }

// RemarkText describes a remittance advice remark code.
func RemarkText(code string) string { return lookup(rarcText, "Remark", code) }

// GroupText describes a claim adjustment group code.
func GroupText(code string) string { return lookup(adjustmentGroupText, "Group", code) }
